// Package signature holds the signature model and the ordered, newest-first
// list of accepted signatures shown on the petition page.
package signature

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Signature is one committed petition entry. Every field is assigned by the
// remote store or at submission time and never changes afterwards.
type Signature struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	Location  string    `json:"location,omitempty"`
}

// ShortID is the id prefix shown in the signature list.
func (s Signature) ShortID() string {
	if len(s.ID) <= 8 {
		return s.ID
	}
	return s.ID[:8]
}

// LocationFunc produces the cosmetic location tag attached to a submission.
type LocationFunc func() string

// RandomLocation returns a tag like LOGIC_NODE_417. The number carries no meaning.
func RandomLocation() string {
	return fmt.Sprintf("LOGIC_NODE_%d", rand.IntN(999))
}
