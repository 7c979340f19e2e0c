package signature

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sig(id, h string, at time.Time) Signature {
	return Signature{ID: id, Handle: h, CreatedAt: at}
}

func TestPrependKeepsPriorOrder(t *testing.T) {
	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore()
	initial := []Signature{
		sig("c", "@c", base.Add(2*time.Minute)),
		sig("b", "@b", base.Add(time.Minute)),
		sig("a", "@a", base),
	}
	store.ReplaceAll(initial)

	committed := sig("d", "@d", base.Add(3*time.Minute))
	store.Prepend(committed)

	want := append([]Signature{committed}, initial...)
	if diff := cmp.Diff(want, store.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreNeverReordersByTimestamp(t *testing.T) {
	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore()
	store.ReplaceAll([]Signature{sig("new", "@new", base.Add(time.Hour))})

	// An older timestamp still lands in front.
	store.Prepend(sig("old", "@old", base))

	got := store.Snapshot()
	if got[0].ID != "old" || got[1].ID != "new" {
		t.Fatalf("unexpected order: %v, %v", got[0].ID, got[1].ID)
	}
}

func TestReplaceAllCopiesInput(t *testing.T) {
	list := []Signature{sig("a", "@a", time.Time{})}
	store := NewStore()
	store.ReplaceAll(list)

	list[0].Handle = "@mutated"
	if got := store.Snapshot()[0].Handle; got != "@a" {
		t.Fatalf("store shares caller slice, got handle %q", got)
	}

	snap := store.Snapshot()
	snap[0].Handle = "@mutated"
	if got := store.Snapshot()[0].Handle; got != "@a" {
		t.Fatalf("snapshot shares store slice, got handle %q", got)
	}
}

func TestLen(t *testing.T) {
	store := NewStore()
	if store.Len() != 0 {
		t.Fatalf("expected empty store")
	}
	store.Prepend(sig("a", "@a", time.Time{}))
	store.Prepend(sig("b", "@b", time.Time{}))
	if store.Len() != 2 {
		t.Fatalf("expected 2, got %d", store.Len())
	}
}

func TestRandomLocation(t *testing.T) {
	pattern := regexp.MustCompile(`^LOGIC_NODE_\d{1,3}$`)
	for i := 0; i < 50; i++ {
		if loc := RandomLocation(); !pattern.MatchString(loc) {
			t.Fatalf("unexpected location %q", loc)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := (Signature{ID: "0123456789abcdef"}).ShortID(); got != "01234567" {
		t.Fatalf("got %q", got)
	}
	if got := (Signature{ID: "abc"}).ShortID(); got != "abc" {
		t.Fatalf("got %q", got)
	}
}
