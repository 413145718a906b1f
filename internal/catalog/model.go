package catalog

// Book is a catalogued title added by a user.
type Book struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:512;not null"`
	Author           string `gorm:"column:author;size:512;not null"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null;index:idx_books_creator_time,priority:1"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_books_creator_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Book) TableName() string {
	return "books"
}

// Genre is an entry of the static genre reference set.
type Genre struct {
	ID   string `gorm:"column:id;primaryKey;size:190;not null"`
	Name string `gorm:"column:name;size:190;not null;uniqueIndex"`
}

// TableName provides the explicit table binding for GORM.
func (Genre) TableName() string {
	return "genres"
}

// BookGenre links a book to one of its genres.
type BookGenre struct {
	BookID  string `gorm:"column:book_id;primaryKey;size:190;not null"`
	GenreID string `gorm:"column:genre_id;primaryKey;size:190;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (BookGenre) TableName() string {
	return "book_genres"
}

// Votable type names stored in votes.votable_type.
const (
	VotableBook    = "book"
	VotableThread  = "thread"
	VotableComment = "comment"
)

// Vote is a single user's signed vote on a book, thread or comment.
type Vote struct {
	VotableType      string `gorm:"column:votable_type;primaryKey;size:16;not null"`
	VotableID        string `gorm:"column:votable_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_votes_user_time,priority:1"`
	Value            int    `gorm:"column:value;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_votes_user_time,priority:2"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}

// Favorite records that a user marked a book as a favorite.
type Favorite struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	BookID           string `gorm:"column:book_id;primaryKey;size:190;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Favorite) TableName() string {
	return "favorites"
}

// Follow is a directed edge of the social graph.
type Follow struct {
	FollowerID       string `gorm:"column:follower_id;primaryKey;size:190;not null"`
	FollowingID      string `gorm:"column:following_id;primaryKey;size:190;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Follow) TableName() string {
	return "follows"
}

// Thread is the root of a discussion about a book.
type Thread struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	BookID           string `gorm:"column:book_id;size:190;not null;index"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null;index:idx_threads_creator_time,priority:1"`
	Title            string `gorm:"column:title;size:512;not null"`
	Content          string `gorm:"column:content;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_threads_creator_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Thread) TableName() string {
	return "threads"
}

// Comment belongs to a thread and optionally replies to another comment of the same thread.
type Comment struct {
	ID               string  `gorm:"column:id;primaryKey;size:190;not null"`
	ThreadID         string  `gorm:"column:thread_id;size:190;not null;index:idx_comments_thread_time,priority:1"`
	ParentCommentID  *string `gorm:"column:parent_comment_id;size:190"`
	CreatedBy        string  `gorm:"column:created_by;size:190;not null;index"`
	Content          string  `gorm:"column:content;type:text;not null"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null;index:idx_comments_thread_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// Profile holds public user details. FollowerCount and FollowingCount are maintained
// by store triggers on the follows table.
type Profile struct {
	ID               string  `gorm:"column:id;primaryKey;size:190;not null"`
	Username         string  `gorm:"column:username;size:190;not null;default:''"`
	Bio              string  `gorm:"column:bio;type:text;not null;default:''"`
	FavoriteGenre    *string `gorm:"column:favorite_genre;size:190"`
	FollowerCount    int64   `gorm:"column:follower_count;not null;default:0"`
	FollowingCount   int64   `gorm:"column:following_count;not null;default:0"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "profiles"
}

// Event is a time-boxed community reading of one book.
type Event struct {
	ID             string `gorm:"column:id;primaryKey;size:190;not null"`
	BookID         string `gorm:"column:book_id;size:190;not null;index"`
	StartAtSeconds int64  `gorm:"column:start_at_s;not null"`
	EndAtSeconds   int64  `gorm:"column:end_at_s;not null;index"`
	IsActive       bool   `gorm:"column:is_active;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// EventParticipant records that a user joined an event.
type EventParticipant struct {
	EventID         string `gorm:"column:event_id;primaryKey;size:190;not null"`
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	JoinedAtSeconds int64  `gorm:"column:joined_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EventParticipant) TableName() string {
	return "event_participants"
}

// EventArchive summarizes an event that ended and was removed.
type EventArchive struct {
	ID                string `gorm:"column:id;primaryKey;size:190;not null"`
	EventID           string `gorm:"column:event_id;size:190;not null;uniqueIndex"`
	BookID            string `gorm:"column:book_id;size:190;not null"`
	BookTitle         string `gorm:"column:book_title;size:512;not null;default:''"`
	BookAuthor        string `gorm:"column:book_author;size:512;not null;default:''"`
	ParticipantCount  int64  `gorm:"column:participant_count;not null"`
	StartAtSeconds    int64  `gorm:"column:start_at_s;not null"`
	EndAtSeconds      int64  `gorm:"column:end_at_s;not null"`
	ArchivedAtSeconds int64  `gorm:"column:archived_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EventArchive) TableName() string {
	return "event_archives"
}

// Models lists every catalog table for schema migration.
func Models() []any {
	return []any{
		&Book{}, &Genre{}, &BookGenre{}, &Vote{}, &Favorite{}, &Follow{},
		&Thread{}, &Comment{}, &Profile{}, &Event{}, &EventParticipant{}, &EventArchive{},
	}
}
