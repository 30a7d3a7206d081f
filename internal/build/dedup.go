package build

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/MikeSquared-Agency/loom/internal/episode"
)

// Fingerprint identifies an episode by its full turn sequence, ignoring the
// sampled system prompt. Stories that share an opening but diverge later get
// different fingerprints.
func Fingerprint(ep episode.Episode) string {
	h := sha256.New()
	n := 0
	for _, t := range ep.Turns {
		if t.Kind == episode.KindSystem {
			continue
		}
		h.Write([]byte(t.Kind.String()))
		h.Write([]byte{0})
		h.Write([]byte(t.Utterance))
		h.Write([]byte{0})
		n++
	}
	if n == 0 {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// dedupIndex remembers fingerprints seen during one run.
type dedupIndex struct {
	seen map[string]string // fingerprint -> first identifier
}

func newDedupIndex() *dedupIndex {
	return &dedupIndex{seen: make(map[string]string)}
}

// Check records ep and returns the identifier of an earlier episode with the
// same fingerprint, if any. Episodes without content never collide.
func (d *dedupIndex) Check(ep episode.Episode) (string, bool) {
	fp := Fingerprint(ep)
	if fp == "" {
		return "", false
	}
	if first, ok := d.seen[fp]; ok {
		return first, true
	}
	d.seen[fp] = ep.Identifier
	return "", false
}
