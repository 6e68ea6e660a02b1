package transcribe

import (
	"strings"
	"unicode"
)

// WERResult breaks a word error rate into its edit operations.
type WERResult struct {
	WER           float64
	Substitutions int
	Insertions    int
	Deletions     int
	RefWords      int
}

// edit is one cell of the alignment table.
type edit struct {
	cost, subs, ins, dels int
}

func (e edit) plus(subs, ins, dels int) edit {
	return edit{e.cost + subs + ins + dels, e.subs + subs, e.ins + ins, e.dels + dels}
}

// ComputeWER scores hypothesis against reference after lowercasing and
// stripping punctuation. An empty reference scores zero.
func ComputeWER(reference, hypothesis string) WERResult {
	ref := words(reference)
	hyp := words(hypothesis)
	if len(ref) == 0 {
		return WERResult{}
	}

	// prev and cur are rows of the alignment over hyp.
	prev := make([]edit, len(hyp)+1)
	cur := make([]edit, len(hyp)+1)
	for j := 1; j <= len(hyp); j++ {
		prev[j] = prev[j-1].plus(0, 1, 0)
	}

	for i := 1; i <= len(ref); i++ {
		cur[0] = prev[0].plus(0, 0, 1)
		for j := 1; j <= len(hyp); j++ {
			if ref[i-1] == hyp[j-1] {
				cur[j] = prev[j-1]
				continue
			}
			best := prev[j-1].plus(1, 0, 0)
			if del := prev[j].plus(0, 0, 1); del.cost < best.cost {
				best = del
			}
			if ins := cur[j-1].plus(0, 1, 0); ins.cost < best.cost {
				best = ins
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}

	e := prev[len(hyp)]
	return WERResult{
		WER:           float64(e.cost) / float64(len(ref)),
		Substitutions: e.subs,
		Insertions:    e.ins,
		Deletions:     e.dels,
		RefWords:      len(ref),
	}
}

func words(s string) []string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Fields(s)
}
