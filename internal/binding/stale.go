package binding

import (
	"os"

	"go.uber.org/zap"

	"github.com/Norgate-AV/f2mod/internal/cache"
)

type decision int

const (
	decisionBuild decision = iota
	decisionRestore
	decisionUpToDate
)

// check decides whether m's output must be rebuilt. The output is stale when
// it is missing, when an input is newer than it or when the input hash
// differs from the last recorded build. A missing output whose recorded
// build matches hash is restored instead.
func (g *Generator) check(m Module, hash string) (decision, *cache.Entry) {
	var entry *cache.Entry
	if g.cache != nil {
		e, err := g.cache.Get(m.Name)
		if err != nil {
			g.log.Warn("failed to read cache entry", zap.String("module", m.Name), zap.Error(err))
		}

		entry = e
	}

	out, err := os.Stat(m.OutputFile)
	if err != nil {
		if entry != nil && entry.Success && entry.Hash == hash && g.cache.HasArtifacts(entry) {
			return decisionRestore, entry
		}

		return decisionBuild, nil
	}

	for _, input := range m.Inputs() {
		info, err := os.Stat(input)
		if err != nil || info.ModTime().After(out.ModTime()) {
			return decisionBuild, nil
		}
	}

	if g.cache != nil && (entry == nil || !entry.Success || entry.Hash != hash) {
		return decisionBuild, nil
	}

	return decisionUpToDate, entry
}
