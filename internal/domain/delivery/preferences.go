package delivery

import (
	"context"

	"github.com/google/uuid"
)

// PreferenceResolver picks the channels a professional is notified on.
// Professionals without stored preferences get the defaults; once any row
// is stored only the enabled ones count, so disabling everything opts out.
type PreferenceResolver struct {
	repo     PreferenceRepository
	defaults []string
}

func NewPreferenceResolver(repo PreferenceRepository, defaults []string) *PreferenceResolver {
	return &PreferenceResolver{repo: repo, defaults: defaults}
}

func (p *PreferenceResolver) ChannelsFor(ctx context.Context, professionalID uuid.UUID) ([]string, error) {
	prefs, err := p.repo.ListForProfessional(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	if len(prefs) == 0 {
		return append([]string(nil), p.defaults...), nil
	}
	var out []string
	for _, pref := range prefs {
		if pref.Enabled {
			out = append(out, pref.Channel)
		}
	}
	return out, nil
}

func (p *PreferenceResolver) Defaults() []string {
	return append([]string(nil), p.defaults...)
}
