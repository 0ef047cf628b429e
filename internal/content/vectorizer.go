package content

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/temcen/partnerrec/internal/features"
	"github.com/temcen/partnerrec/pkg/models"
)

// Block weights of the partner vector. Category dominates so partners of
// the same kind cluster together before finer attributes split them.
const (
	categoryWeight    = 2.0
	subcategoryWeight = 1.0
	cityWeight        = 1.0
	priceWeight       = 1.0
	ratingWeight      = 0.5
	tagWeight         = 1.0
	premiumWeight     = 0.5
	maxRating         = 5.0
)

// Vocabulary fixes the layout of partner vectors for one run.
type Vocabulary struct {
	Categories    []string
	Subcategories []string
	Cities        []string
	Tags          []string
	MinPrice      int
	MaxPrice      int
}

func BuildVocabulary(partners []models.Partner) Vocabulary {
	categories := map[string]struct{}{}
	subcategories := map[string]struct{}{}
	cities := map[string]struct{}{}
	tags := map[string]struct{}{}

	v := Vocabulary{}
	for i, p := range partners {
		addKnown(categories, p.Category)
		addKnown(subcategories, p.Subcategory)
		addKnown(cities, p.City)
		for _, t := range p.Tags {
			addKnown(tags, t)
		}
		if i == 0 || p.PriceRange < v.MinPrice {
			v.MinPrice = p.PriceRange
		}
		if i == 0 || p.PriceRange > v.MaxPrice {
			v.MaxPrice = p.PriceRange
		}
	}
	v.Categories = sortedKeys(categories)
	v.Subcategories = sortedKeys(subcategories)
	v.Cities = sortedKeys(cities)
	v.Tags = sortedKeys(tags)
	return v
}

func (v Vocabulary) Dim() int {
	return len(v.Categories) + len(v.Subcategories) + len(v.Cities) + len(v.Tags) + 3
}

// Vector encodes a partner as a unit-length vector. Unknown labels simply
// leave their block empty.
func (v Vocabulary) Vector(p models.Partner) []float64 {
	vec := make([]float64, v.Dim())
	off := 0

	setOneHot(vec[off:], v.Categories, p.Category, categoryWeight)
	off += len(v.Categories)
	setOneHot(vec[off:], v.Subcategories, p.Subcategory, subcategoryWeight)
	off += len(v.Subcategories)
	setOneHot(vec[off:], v.Cities, p.City, cityWeight)
	off += len(v.Cities)

	if len(p.Tags) > 0 {
		w := tagWeight / math.Sqrt(float64(len(p.Tags)))
		for _, t := range p.Tags {
			setOneHot(vec[off:], v.Tags, t, w)
		}
	}
	off += len(v.Tags)

	if span := v.MaxPrice - v.MinPrice; span > 0 {
		vec[off] = priceWeight * float64(p.PriceRange-v.MinPrice) / float64(span)
	}
	vec[off+1] = ratingWeight * clamp(p.Rating/maxRating, 0, 1)
	if p.Premium {
		vec[off+2] = premiumWeight
	}

	if n := floats.Norm(vec, 2); n > 0 {
		floats.Scale(1/n, vec)
	}
	return vec
}

func setOneHot(block []float64, labels []string, label string, weight float64) {
	i := sort.SearchStrings(labels, label)
	if i < len(labels) && labels[i] == label {
		block[i] = weight
	}
}

func addKnown(set map[string]struct{}, label string) {
	if label == "" || label == features.UnknownLabel {
		return
	}
	set[label] = struct{}{}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
