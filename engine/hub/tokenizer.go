package hub

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tencdm/tencdm/engine/encoder"
)

const (
	tokenizerFile     = "tokenizer.json"
	vocabFile         = "vocab.txt"
	specialTokensFile = "special_tokens_map.json"
)

// padCandidates are tried when special_tokens_map.json names no pad token.
var padCandidates = []string{"[PAD]", "<pad>"}

// Tokenizer is the vocabulary view of a pretrained tokenizer.
type Tokenizer struct {
	vocab    map[string]int
	specials []int
	pad      int
}

func (t *Tokenizer) Vocab() map[string]int { return t.vocab }
func (t *Tokenizer) SpecialIDs() []int     { return t.specials }

// PadID returns -1 when the tokenizer has no pad token.
func (t *Tokenizer) PadID() int { return t.pad }

// LoadTokenizer reads tokenizer.json, falling back to a WordPiece vocab.txt.
func (h *Hub) LoadTokenizer(ctx context.Context, id string) (encoder.Tokenizer, error) {
	var (
		vocab   map[string]int
		special map[string]bool
	)
	data, err := h.fetch(ctx, id, tokenizerFile)
	switch {
	case err == nil:
		vocab, special, err = parseTokenizerJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", id, tokenizerFile, err)
		}
	case errors.Is(err, ErrNotFound):
		data, err = h.fetch(ctx, id, vocabFile)
		if err != nil {
			return nil, err
		}
		vocab = parseVocabTxt(data)
		special = map[string]bool{}
	default:
		return nil, err
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%s: tokenizer has an empty vocabulary", id)
	}
	pad := ""
	data, err = h.fetch(ctx, id, specialTokensFile)
	switch {
	case err == nil:
		named, err := parseSpecialTokens(data)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", id, specialTokensFile, err)
		}
		for role, tok := range named {
			special[tok] = true
			if role == "pad_token" {
				pad = tok
			}
		}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return newTokenizer(vocab, special, pad), nil
}

func newTokenizer(vocab map[string]int, special map[string]bool, pad string) *Tokenizer {
	t := &Tokenizer{vocab: vocab, pad: -1}
	for tok := range special {
		if id, ok := vocab[tok]; ok {
			t.specials = append(t.specials, id)
		}
	}
	sort.Ints(t.specials)
	if id, ok := vocab[pad]; ok {
		t.pad = id
		return t
	}
	for _, c := range padCandidates {
		if id, ok := vocab[c]; ok {
			t.pad = id
			break
		}
	}
	return t
}

// parseTokenizerJSON reads model.vocab as either a token to id object
// (WordPiece, BPE) or an array of [token, score] pairs (Unigram), then
// overlays added_tokens.
func parseTokenizerJSON(data []byte) (map[string]int, map[string]bool, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	vocab := map[string]int{}
	v := doc.Get("model.vocab")
	switch {
	case v.IsObject():
		v.ForEach(func(k, id gjson.Result) bool {
			vocab[k.String()] = int(id.Int())
			return true
		})
	case v.IsArray():
		i := 0
		v.ForEach(func(_, pair gjson.Result) bool {
			vocab[pair.Get("0").String()] = i
			i++
			return true
		})
	default:
		return nil, nil, errors.New("model.vocab is missing")
	}
	special := map[string]bool{}
	doc.Get("added_tokens").ForEach(func(_, tok gjson.Result) bool {
		content := tok.Get("content").String()
		vocab[content] = int(tok.Get("id").Int())
		if tok.Get("special").Bool() {
			special[content] = true
		}
		return true
	})
	return vocab, special, nil
}

func parseVocabTxt(data []byte) map[string]int {
	vocab := map[string]int{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for i := 0; sc.Scan(); i++ {
		tok := strings.TrimRight(sc.Text(), "\r")
		if _, dup := vocab[tok]; !dup {
			vocab[tok] = i
		}
	}
	return vocab
}

// parseSpecialTokens maps roles such as pad_token to token text. Entries may
// be plain strings, {"content": ...} objects or lists of either.
func parseSpecialTokens(data []byte) (map[string]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	out := map[string]string{}
	gjson.ParseBytes(data).ForEach(func(role, v gjson.Result) bool {
		if v.IsArray() {
			v.ForEach(func(i, item gjson.Result) bool {
				out[fmt.Sprintf("%s.%d", role.String(), i.Int())] = tokenText(item)
				return true
			})
			return true
		}
		out[role.String()] = tokenText(v)
		return true
	})
	return out, nil
}

func tokenText(v gjson.Result) string {
	if v.IsObject() {
		return v.Get("content").String()
	}
	return v.String()
}
