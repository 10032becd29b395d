package evidence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/fraud"
	"github.com/fadilmartias/referral-escrow/internal/model"
)

// ByUploader groups evidence by the party that uploaded it, keeping upload order in each group.
type ByUploader map[model.Party][]model.Evidence

func Group(items []model.Evidence) ByUploader {
	g := ByUploader{}
	for _, e := range items {
		g[e.UploadedBy] = append(g[e.UploadedBy], e)
	}
	return g
}

// Reciprocal reports whether both seeker and referrer have contributed proof.
func (g ByUploader) Reciprocal() bool {
	return len(g[model.PartySeeker]) > 0 && len(g[model.PartyReferrer]) > 0
}

// Summary is the structured description handed to the reasoning service.
type Summary struct {
	Items             []Item
	SeekerCount       int
	ReferrerCount     int
	Reciprocal        bool
	Company           string
	Role              string
	Stage             model.VerificationStage
	DaysSinceReferral int
}

type Item struct {
	Type       model.EvidenceType
	UploadedBy model.Party
	Verified   bool
}

func (s Summary) Count() int { return len(s.Items) }

func Summarize(v *model.Verification, ref *model.Referral, now time.Time) Summary {
	g := Group(v.Evidence)
	s := Summary{
		SeekerCount:   len(g[model.PartySeeker]),
		ReferrerCount: len(g[model.PartyReferrer]),
		Reciprocal:    g.Reciprocal(),
		Stage:         v.Stage,
	}
	for _, e := range v.Evidence {
		s.Items = append(s.Items, Item{Type: e.Type, UploadedBy: e.UploadedBy, Verified: e.Verified})
	}
	if ref != nil {
		s.Company = ref.Company
		s.Role = ref.Role
		s.DaysSinceReferral = fraud.DaysSince(ref.CreatedAt, now)
	}
	return s
}

// Describe renders the summary as the evidence section of a reasoning prompt.
func (s Summary) Describe() string {
	var b strings.Builder
	if len(s.Items) == 0 {
		b.WriteString("Evidence submitted: none\n")
	} else {
		parts := make([]string, 0, len(s.Items))
		for _, it := range s.Items {
			p := fmt.Sprintf("%s uploaded by %s", it.Type, it.UploadedBy)
			if it.Verified {
				p += " (confirmed by reviewer)"
			}
			parts = append(parts, p)
		}
		fmt.Fprintf(&b, "Evidence submitted: %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "Total documents: %d (seeker %d, referrer %d)\n", s.Count(), s.SeekerCount, s.ReferrerCount)
	fmt.Fprintf(&b, "Both parties confirmed: %t\n", s.Reciprocal)
	fmt.Fprintf(&b, "Document types: %s\n", strings.Join(s.types(), ", "))
	if s.Company != "" || s.Role != "" {
		fmt.Fprintf(&b, "Company: %s\nRole: %s\n", s.Company, s.Role)
	}
	fmt.Fprintf(&b, "Claimed stage: %s\nDays since referral: %d\n", s.Stage, s.DaysSinceReferral)
	return b.String()
}

func (s Summary) types() []string {
	seen := map[string]struct{}{}
	for _, it := range s.Items {
		seen[string(it.Type)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return []string{"none"}
	}
	return out
}
