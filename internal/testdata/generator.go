package testdata

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/jask/focusguard/internal/database/repository"
	"github.com/jask/focusguard/internal/policy"
)

// Repos bundles repos used by Seed.
type Repos struct {
	Profiles *repository.ProfileRepo
	History  *repository.HistoryRepo
	Sessions *repository.SessionRepo
}

type sample struct {
	identity string
	name     string
	role     policy.Role
	queries  []string
}

var samples = []sample{
	{"ana", "Ana", policy.RoleResearcher, []string{"protein folding benchmarks", "crispr off-target effects", "bayesian hierarchical models"}},
	{"sam", "Sam", policy.RoleStudent, []string{"photosynthesis light reactions", "quadratic formula", "causes of world war one"}},
	{"lee", "Lee", policy.RoleTeacher, []string{"fractions lesson plan", "rubric for lab reports", "plate tectonics activity"}},
}

// Seed creates sample profiles with search history and a few finished sessions.
func Seed(ctx context.Context, repos Repos, seed int64) error {
	r := rand.New(rand.NewSource(seed))
	now := time.Now().UTC()

	for _, s := range samples {
		p := repository.Profile{ID: uuid.NewString(), Identity: s.identity, DisplayName: s.name, Role: string(s.role)}
		if err := repos.Profiles.Upsert(ctx, p); err != nil {
			return err
		}
		if err := repos.History.Save(ctx, s.identity, s.queries); err != nil {
			return err
		}
		for i := 0; i < 4; i++ {
			total := (r.Intn(4) + 1) * 15 * 60
			done := total
			reason := "expired"
			if r.Intn(10) < 3 {
				done = r.Intn(total)
				reason = "ended"
			}
			start := now.AddDate(0, 0, -r.Intn(14)).Add(-time.Duration(r.Intn(8)) * time.Hour)
			fs := repository.FocusSession{
				ID:               uuid.NewString(),
				Identity:         s.identity,
				TotalSeconds:     total,
				CompletedSeconds: done,
				EndReason:        reason,
				StartedAt:        start,
				EndedAt:          start.Add(time.Duration(done) * time.Second),
			}
			if err := repos.Sessions.Insert(ctx, fs); err != nil {
				return err
			}
		}
	}
	return nil
}
