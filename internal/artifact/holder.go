package artifact

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/temcen/partnerrec/internal/collaborative"
	"github.com/temcen/partnerrec/internal/content"
	"github.com/temcen/partnerrec/internal/features"
	"github.com/temcen/partnerrec/pkg/models"
)

// Active is a loaded artifact with its query structures built. It is
// immutable once constructed.
type Active struct {
	Artifact      *Artifact
	Manifest      *Manifest
	Collaborative *collaborative.Model
	Content       *content.Model

	partners map[uuid.UUID]models.Partner
	profiles map[uuid.UUID]models.UserProfile
}

func NewActive(a *Artifact, m *Manifest) *Active {
	act := &Active{
		Artifact: a,
		Manifest: m,
		partners: make(map[uuid.UUID]models.Partner, len(a.Partners)),
		profiles: make(map[uuid.UUID]models.UserProfile, len(a.Profiles)),
	}
	if a.Collaborative != nil {
		act.Collaborative = collaborative.NewModel(a.Collaborative)
	}
	if a.Content != nil {
		act.Content = content.NewModel(a.Content)
	}
	for _, p := range a.Partners {
		act.partners[p.ID] = p
	}
	for _, p := range a.Profiles {
		act.profiles[p.UserID] = p
	}
	return act
}

func (a *Active) RunID() string {
	return a.Artifact.RunID
}

func (a *Active) Partner(id uuid.UUID) (models.Partner, bool) {
	p, ok := a.partners[id]
	return p, ok
}

// InCategory reports whether the partner belongs to the (normalised)
// category.
func (a *Active) InCategory(id uuid.UUID, category string) bool {
	p, ok := a.partners[id]
	return ok && p.Category == features.NormalizeLabel(category)
}

func (a *Active) PreferredCategory(userID uuid.UUID) (string, bool) {
	p, ok := a.profiles[userID]
	if !ok {
		return "", false
	}
	return p.PreferredCategory()
}

// Holder publishes the active artifact to concurrent readers. Swap replaces
// it in one step; readers see either the old or the new one, never a mix.
type Holder struct {
	current atomic.Pointer[Active]
}

func NewHolder() *Holder {
	return &Holder{}
}

// Load returns nil until the first Swap.
func (h *Holder) Load() *Active {
	return h.current.Load()
}

func (h *Holder) Swap(next *Active) *Active {
	return h.current.Swap(next)
}

func (h *Holder) RunID() string {
	if a := h.current.Load(); a != nil {
		return a.RunID()
	}
	return ""
}
