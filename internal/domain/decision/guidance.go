package decision

import (
	"strings"

	"github.com/okian/ecovision/internal/domain/model"
)

var guidanceByLabel = map[string]model.Guidance{
	"plastic": {
		Bin:    "yellow",
		Advice: "Plastic is recyclable and used in packaging and bottles. Rinse it before disposal.",
	},
	"paper": {
		Bin:    "blue",
		Advice: "Paper is recycled into new products such as notebooks and cardboard. Keep it away from wet waste.",
	},
	"glass": {
		Bin:    "green",
		Advice: "Glass can be recycled many times without losing quality. Rinse it before disposal.",
	},
	"metal": {
		Bin:    "grey",
		Advice: "Metal such as aluminium cans is recycled into new containers and metal products.",
	},
	"cardboard": {
		Bin:    "blue",
		Advice: "Recycled cardboard becomes packaging and boxes. Make sure it is free of grease and liquids.",
	},
	"trash": {
		Bin:    "grey",
		Advice: "Non-recyclable waste such as dirty napkins or mixed products. Consider reducing its use.",
	},
}

var unknownGuidance = model.Guidance{
	Bin:    "none",
	Advice: "This item could not be identified as recyclable. Try to reuse it or reduce its use.",
}

// GuidanceFor returns disposal guidance for label. Labels outside the
// built-in vocabulary get the Unknown guidance.
func GuidanceFor(label string) model.Guidance {
	if g, ok := guidanceByLabel[strings.ToLower(label)]; ok {
		return g
	}
	return unknownGuidance
}
