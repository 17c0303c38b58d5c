package encoder

import (
	"fmt"
	"strings"
)

// Family is the pretrained architecture backing an adapter.
type Family int

const (
	Unsupported Family = iota
	Bert
	Roberta
	T5
	Bart
)

func (f Family) String() string {
	switch f {
	case Bert:
		return "bert"
	case Roberta:
		return "roberta"
	case T5:
		return "t5"
	case Bart:
		return "bart"
	default:
		return "unsupported"
	}
}

// classificationOrder is checked in sequence; the first substring found wins,
// so roberta links classify as Bert.
var classificationOrder = []Family{Bert, Roberta, T5, Bart}

// Classify maps a model link to its family by case-insensitive substring match.
func Classify(link string) Family {
	l := strings.ToLower(link)
	for _, f := range classificationOrder {
		if strings.Contains(l, f.String()) {
			return f
		}
	}
	return Unsupported
}

// LoadKind tells the model provider which part of a checkpoint to instantiate.
type LoadKind int

const (
	// LoadAuto loads the full pretrained model.
	LoadAuto LoadKind = iota
	// LoadEncoderOnly loads the encoder stack of an encoder-decoder checkpoint.
	LoadEncoderOnly
	// LoadEncoderSubmodule loads the full model and keeps its encoder submodule.
	LoadEncoderSubmodule
)

func (k LoadKind) String() string {
	switch k {
	case LoadEncoderOnly:
		return "encoder_only"
	case LoadEncoderSubmodule:
		return "encoder_submodule"
	default:
		return "auto"
	}
}

// Strategy fixes how one family is loaded and read.
type Strategy struct {
	Family Family
	Load   LoadKind
	// EmbeddingParam names the input embedding weight in the checkpoint.
	EmbeddingParam string
	// HiddenStates names the model output used as the sequence representation.
	HiddenStates string
	// FiltersUnused drops "[unused" vocabulary slots from statistics.
	FiltersUnused bool
}

const lastHiddenState = "last_hidden_state"

var strategies = map[Family]Strategy{
	Bert: {
		Family:         Bert,
		Load:           LoadAuto,
		EmbeddingParam: "embeddings.word_embeddings.weight",
		HiddenStates:   lastHiddenState,
		FiltersUnused:  true,
	},
	Roberta: {
		Family:         Roberta,
		Load:           LoadAuto,
		EmbeddingParam: "embeddings.word_embeddings.weight",
		HiddenStates:   lastHiddenState,
	},
	T5: {
		Family:         T5,
		Load:           LoadEncoderOnly,
		EmbeddingParam: "encoder.embed_tokens.weight",
		HiddenStates:   lastHiddenState,
	},
	Bart: {
		Family:         Bart,
		Load:           LoadEncoderSubmodule,
		EmbeddingParam: "encoder.embed_tokens.weight",
		HiddenStates:   lastHiddenState,
	},
}

// StrategyFor returns the fixed strategy of a family.
func StrategyFor(f Family) (Strategy, error) {
	s, ok := strategies[f]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %s", ErrUnsupportedEncoder, f)
	}
	return s, nil
}
