package repository

import (
	"sort"

	"github.com/openbmc/pel-logd/internal/pel/section"
)

// Retention bounds PEL categories as a percentage of the configured max
// repository size, matching repository.cpp's hard-coded limits: BMC and
// non-BMC informational PELs each get 15%, BMC and non-BMC serviceable
// (non-informational) PELs each get 30% (90% worst case), and a final pass
// brings the total PEL count down to 80% of the configured max count.
type Retention struct {
	MaxRepoSize int64
	MaxNumPELs  int
}

func (r Retention) overBMCInfo(s repoSizes) bool           { return s.bmcInfo > r.MaxRepoSize*15/100 }
func (r Retention) overBMCServiceable(s repoSizes) bool     { return s.bmcServiceable > r.MaxRepoSize*30/100 }
func (r Retention) overNonBMCInfo(s repoSizes) bool         { return s.nonBMCInfo > r.MaxRepoSize*15/100 }
func (r Retention) overNonBMCServiceable(s repoSizes) bool  { return s.nonBMCServiceable > r.MaxRepoSize*30/100 }
func (r Retention) tooManyPELs(n int) bool                  { return n > r.MaxNumPELs*80/100 }

type category func(a *PELAttributes) bool

func isBMCInfo(a *PELAttributes) bool     { return a.Creator == section.CreatorBMC && !isServiceableSev(a) }
func isBMCNonInfo(a *PELAttributes) bool  { return a.Creator == section.CreatorBMC && isServiceableSev(a) }
func isNonBMCInfo(a *PELAttributes) bool  { return a.Creator != section.CreatorBMC && !isServiceableSev(a) }
func isNonBMCNonInfo(a *PELAttributes) bool {
	return a.Creator != section.CreatorBMC && isServiceableSev(a)
}
func isAnyPEL(*PELAttributes) bool { return true }

// stateChecks are the 4 escalating-aggressiveness passes within a category:
// only HMC-acked PELs, then only host-acked, then only host-sent, then
// everything (ported from repository.cpp's removePELs stateChecks).
var stateChecks = []func(a *PELAttributes) bool{
	func(a *PELAttributes) bool { return a.HMCState == section.TransAcked },
	func(a *PELAttributes) bool { return a.HostState == section.TransAcked },
	func(a *PELAttributes) bool { return a.HostState == section.TransSent },
	func(*PELAttributes) bool { return true },
}

// prune removes PELs from r.attrs until each category is back under its
// limit, returning the OBMC log ids removed. ids in isolated are never
// removed (they back a hardware-isolation guard record; spec §5 "delete
// prohibition").
func (r *Repository) prune(isolated map[uint32]bool) []uint32 {
	var removed []uint32

	overLimitByCategory := []struct {
		over func(repoSizes) bool
		is   category
	}{
		{r.retention.overBMCInfo, isBMCInfo},
		{r.retention.overBMCServiceable, isBMCNonInfo},
		{r.retention.overNonBMCInfo, isNonBMCInfo},
		{r.retention.overNonBMCServiceable, isNonBMCNonInfo},
	}

	for _, c := range overLimitByCategory {
		removed = append(removed, r.removeCategory(c.over, c.is, isolated)...)
	}

	if len(r.attrs) > r.retention.MaxNumPELs {
		removed = append(removed, r.removeCategory(
			func(repoSizes) bool { return r.retention.tooManyPELs(len(r.attrs)) },
			isAnyPEL, isolated)...)
	}

	return removed
}

// removeCategory runs the 4-pass escalation within one category, stopping
// as soon as the category's over-limit check clears.
func (r *Repository) removeCategory(overLimit func(repoSizes) bool, is category, isolated map[uint32]bool) []uint32 {
	if !overLimit(r.sizes) {
		return nil
	}

	ids := r.sortedOBMCIDsByPath()
	var removed []uint32

	for _, check := range stateChecks {
		for _, obmcID := range ids {
			a, ok := r.attrs[obmcID]
			if !ok || isolated[obmcID] {
				continue
			}
			if !is(a) || !check(a) {
				continue
			}

			r.removeLocked(obmcID)
			removed = append(removed, obmcID)

			if !overLimit(r.sizes) {
				return removed
			}
		}
	}
	return removed
}

// sortedOBMCIDsByPath returns ids ordered by file path (ascending), which
// is the repository filename's BCD timestamp prefix and therefore age
// order — the same tie-break repository.cpp uses (getAllPELAttributes).
func (r *Repository) sortedOBMCIDsByPath() []uint32 {
	ids := make([]uint32, 0, len(r.attrs))
	for id := range r.attrs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.attrs[ids[i]].Path < r.attrs[ids[j]].Path
	})
	return ids
}
