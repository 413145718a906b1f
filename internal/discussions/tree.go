package discussions

import "github.com/bookthreads/bookthreads-api/internal/catalog"

// UnknownAuthor is shown for comments whose author has no display name.
const UnknownAuthor = "Unknown"

// CommentNode is a comment with its direct replies.
type CommentNode struct {
	ID              string         `json:"id"`
	ThreadID        string         `json:"threadId"`
	ParentCommentID *string        `json:"parentCommentId"`
	AuthorID        string         `json:"authorId"`
	AuthorName      string         `json:"authorName"`
	Content         string         `json:"content"`
	CreatedAt       int64          `json:"createdAt"`
	Replies         []*CommentNode `json:"replies"`
}

// BuildTree turns a thread's comments, oldest first, into a forest. A comment without
// a parent is a root. A comment whose parent is not among rows is dropped together
// with every reply beneath it. Sibling order follows row order.
func BuildTree(rows []catalog.Comment, authors map[string]string) []*CommentNode {
	index := make(map[string]*CommentNode, len(rows))
	nodes := make([]*CommentNode, 0, len(rows))
	for _, row := range rows {
		if _, duplicate := index[row.ID]; duplicate {
			continue
		}
		name, ok := authors[row.CreatedBy]
		if !ok || name == "" {
			name = UnknownAuthor
		}
		node := &CommentNode{
			ID:              row.ID,
			ThreadID:        row.ThreadID,
			ParentCommentID: row.ParentCommentID,
			AuthorID:        row.CreatedBy,
			AuthorName:      name,
			Content:         row.Content,
			CreatedAt:       row.CreatedAtSeconds,
			Replies:         []*CommentNode{},
		}
		index[row.ID] = node
		nodes = append(nodes, node)
	}

	roots := []*CommentNode{}
	for _, node := range nodes {
		if node.ParentCommentID == nil {
			roots = append(roots, node)
			continue
		}
		if parent, ok := index[*node.ParentCommentID]; ok && parent != node {
			parent.Replies = append(parent.Replies, node)
		}
	}
	return roots
}

// CountNodes returns the number of nodes in the forest.
func CountNodes(forest []*CommentNode) int {
	total := 0
	for _, node := range forest {
		total += 1 + CountNodes(node.Replies)
	}
	return total
}
