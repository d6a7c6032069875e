package dumper

import (
	"github.com/xakep666/ps3dump-go/internal/keystore"
)

// fileReference is the set of reference hash records known for one file;
// each record maps algorithm name to a hex digest.
type fileReference []map[string]string

// algorithms returns the union of algorithms the references carry.
func (r fileReference) algorithms() []string {
	seen := make(map[string]struct{})
	var ret []string
	for _, rec := range r {
		for alg := range rec {
			if _, ok := seen[alg]; !ok {
				seen[alg] = struct{}{}
				ret = append(ret, alg)
			}
		}
	}

	return ret
}

// matches applies the match rule: a single algorithm whose computed
// digest equals the same algorithm's digest in any reference record
// verifies the file.
func (r fileReference) matches(computed map[string]string) bool {
	for _, rec := range r {
		for alg, digest := range computed {
			if want, ok := rec[alg]; ok && want == digest {
				return true
			}
		}
	}

	return false
}

// referenceSet maps disc paths to their reference hash records.
type referenceSet map[string]fileReference

// buildReferences joins the reference metadata of the chosen key group
// with the file table. Only IRD records whose game version equals the
// disc version contribute; a redump-sourced key yields no references.
func (e *Engine) buildReferences(files []FileRecord) referenceSet {
	if e.chosen == nil {
		return nil
	}

	var sources []keystore.Record
	for _, rec := range e.keys.Group(e.chosen.KeyID) {
		if rec.Kind == keystore.KindIRD && rec.GameVersion == e.identity.DiscVersion {
			sources = append(sources, rec)
		}
	}
	if len(sources) == 0 {
		return nil
	}

	ret := make(referenceSet)
	for _, f := range files {
		for _, src := range sources {
			digest, ok := src.FileHashes[uint64(f.StartSector)]
			if !ok {
				continue
			}

			ret[f.SourcePath] = append(ret[f.SourcePath], map[string]string{"md5": digest})
		}
	}

	return ret
}
