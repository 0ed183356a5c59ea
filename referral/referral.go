// Package referral manages referral codes and the parent/child linkage
// between accounts. It performs no writes; persistence belongs to the
// storage package.
package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"

	"github.com/google/uuid"

	"ybcstore/models"
)

var (
	ErrCodeNotFound = errors.New("referral: code not found")
	ErrLinkCycle    = errors.New("referral: link would create a cycle")
	ErrChainTooLong = errors.New("referral: ancestor chain too long")
)

// codeAlphabet omits 0/O and 1/I/L so codes survive being read aloud.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// CodeLength is the length of generated referral codes.
const CodeLength = 10

// maxChainWalk bounds ancestor walks during link validation. Any chain this
// deep indicates corrupted linkage rather than a legitimate downline.
const maxChainWalk = 64

// Directory is the read surface the linkage helpers need.
type Directory interface {
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UserByReferralCode(ctx context.Context, code string) (*models.User, error)
	Children(ctx context.Context, parentID uuid.UUID) ([]*models.User, error)
}

// NewCode generates a random referral code. Uniqueness is enforced by the
// database index; callers retry on conflict.
func NewCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// Normalize canonicalizes user-supplied referral codes.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ResolveParent looks up the account owning the given referral code.
func ResolveParent(ctx context.Context, dir Directory, code string) (*models.User, error) {
	code = Normalize(code)
	if code == "" {
		return nil, ErrCodeNotFound
	}
	parent, err := dir.UserByReferralCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, ErrCodeNotFound
	}
	return parent, nil
}

// ValidateLink checks that attaching child under parent keeps the referral
// graph acyclic. It walks the prospective parent's ancestor chain; finding
// the child there means the link would close a loop.
func ValidateLink(ctx context.Context, dir Directory, childID, parentID uuid.UUID) error {
	if childID == parentID {
		return ErrLinkCycle
	}
	current := parentID
	for i := 0; i < maxChainWalk; i++ {
		node, err := dir.UserByID(ctx, current)
		if err != nil {
			return err
		}
		if node == nil || node.ParentID == nil {
			return nil
		}
		if *node.ParentID == childID {
			return ErrLinkCycle
		}
		current = *node.ParentID
	}
	return ErrChainTooLong
}

// Node is one entry in a downline tree.
type Node struct {
	User     *models.User `json:"user"`
	Depth    int          `json:"depth"`
	Children []*Node      `json:"children,omitempty"`
}

// BuildTree assembles the downline of root, maxDepth levels deep. Children
// appear in the order the directory returns them.
func BuildTree(ctx context.Context, dir Directory, root *models.User, maxDepth int) (*Node, error) {
	node := &Node{User: root}
	if err := fillChildren(ctx, dir, node, 1, maxDepth); err != nil {
		return nil, err
	}
	return node, nil
}

func fillChildren(ctx context.Context, dir Directory, node *Node, depth, maxDepth int) error {
	if depth > maxDepth {
		return nil
	}
	children, err := dir.Children(ctx, node.User.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		childNode := &Node{User: child, Depth: depth}
		if err := fillChildren(ctx, dir, childNode, depth+1, maxDepth); err != nil {
			return err
		}
		node.Children = append(node.Children, childNode)
	}
	return nil
}
