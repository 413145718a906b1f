package votes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
)

var (
	// ErrInvalidVotableType indicates an entity type that cannot be voted on.
	ErrInvalidVotableType = fmt.Errorf("%w: votable type must be book, thread or comment", serviceerror.ErrInvalidInput)
	// ErrInvalidVoteValue indicates a vote value other than +1 or -1.
	ErrInvalidVoteValue = fmt.Errorf("%w: vote value must be 1 or -1", serviceerror.ErrInvalidInput)
)

// VotableType names the kind of entity a vote applies to.
type VotableType string

// Votable entity types.
const (
	TypeBook    VotableType = catalog.VotableBook
	TypeThread  VotableType = catalog.VotableThread
	TypeComment VotableType = catalog.VotableComment
)

// ParseVotableType validates a raw votable type.
func ParseVotableType(raw string) (VotableType, error) {
	switch VotableType(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeBook:
		return TypeBook, nil
	case TypeThread:
		return TypeThread, nil
	case TypeComment:
		return TypeComment, nil
	}
	return "", ErrInvalidVotableType
}

func (t VotableType) table() string {
	switch t {
	case TypeBook:
		return "books"
	case TypeThread:
		return "threads"
	default:
		return "comments"
	}
}

// VoteValue is a signed vote. The zero value means "no vote".
type VoteValue int

// Vote directions.
const (
	None VoteValue = 0
	Up   VoteValue = 1
	Down VoteValue = -1
)

// ParseVoteValue validates a requested vote direction.
func ParseVoteValue(raw int) (VoteValue, error) {
	switch VoteValue(raw) {
	case Up, Down:
		return VoteValue(raw), nil
	}
	return None, ErrInvalidVoteValue
}

// Target identifies the entity being voted on.
type Target struct {
	Type VotableType
	ID   catalog.EntityID
}

// NewTarget validates the raw entity type and id.
func NewTarget(rawType, rawID string) (Target, error) {
	votableType, err := ParseVotableType(rawType)
	if err != nil {
		return Target{}, err
	}
	entityID, err := catalog.NewEntityID(rawID)
	if err != nil {
		return Target{}, errors.Join(serviceerror.ErrInvalidInput, err)
	}
	return Target{Type: votableType, ID: entityID}, nil
}

// Key returns the shared entity state key of the target.
func (t Target) Key() entitystate.Key {
	return catalog.VoteKey(string(t.Type), t.ID.String())
}

// Tally is the folded score of a target and the viewer's own vote.
type Tally struct {
	Score     int64     `json:"score"`
	UserValue VoteValue `json:"userValue"`
}

type voteAction int

const (
	actionInsert voteAction = iota + 1
	actionRemove
	actionChange
)

type voteDecision struct {
	action voteAction
	value  VoteValue
	delta  int64
}

// resolveVote decides how a repeated click changes the stored vote.
// No vote inserts, the same value toggles off, a different value flips the row.
func resolveVote(existing, requested VoteValue) voteDecision {
	switch {
	case existing == None:
		return voteDecision{action: actionInsert, value: requested, delta: int64(requested)}
	case existing == requested:
		return voteDecision{action: actionRemove, value: None, delta: -int64(existing)}
	default:
		return voteDecision{action: actionChange, value: requested, delta: int64(requested - existing)}
	}
}
