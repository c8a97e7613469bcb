package registry

import (
	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"

	roaring "github.com/RoaringBitmap/roaring"
)

// AttributeBitmaps holds roaring bitmaps of record positions keyed by
// artifact kind, plus one for hidden records.
type AttributeBitmaps struct {
	Kind   map[artifact.Kind]*roaring.Bitmap
	Hidden *roaring.Bitmap
}

func NewAttributeBitmaps() *AttributeBitmaps {
	return &AttributeBitmaps{
		Kind:   make(map[artifact.Kind]*roaring.Bitmap),
		Hidden: roaring.New(),
	}
}

func (ab *AttributeBitmaps) Add(i int, rec *Record) {
	bm, ok := ab.Kind[rec.Locator.Kind]
	if !ok {
		bm = roaring.New()
		ab.Kind[rec.Locator.Kind] = bm
	}
	bm.Add(uint32(i))
	if rec.Hidden {
		ab.Hidden.Add(uint32(i))
	}
}

// OrKinds returns the positions of records of any of the given kinds.
func (ab *AttributeBitmaps) OrKinds(kinds ...artifact.Kind) []uint32 {
	res := roaring.New()
	for _, k := range kinds {
		if bm, ok := ab.Kind[k]; ok {
			res.Or(bm)
		}
	}
	return res.ToArray()
}

// Visible returns the positions in [0, n) that are not hidden.
func (ab *AttributeBitmaps) Visible(n int) []uint32 {
	all := roaring.New()
	all.AddRange(0, uint64(n))
	all.AndNot(ab.Hidden)
	return all.ToArray()
}
