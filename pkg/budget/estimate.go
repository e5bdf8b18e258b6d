package budget

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingCache memoizes tiktoken.Encoding construction; building one is
// not free and every admission check would otherwise pay for it.
var encodingCache = struct {
	sync.Mutex
	enc *tiktoken.Tiktoken
}{}

// EstimateTokens approximates how many tokens text would consume using
// the cl100k_base encoding as a model-agnostic stand-in
// additions) — the engine never calls a real provider tokenizer, since
// which model ultimately serves a role is resolved by the dispatcher, not
// the budget controller.
func EstimateTokens(text string) (int, error) {
	enc, err := cl100kEncoding()
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func cl100kEncoding() (*tiktoken.Tiktoken, error) {
	encodingCache.Lock()
	defer encodingCache.Unlock()
	if encodingCache.enc != nil {
		return encodingCache.enc, nil
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("budget: load cl100k_base encoding: %w", err)
	}
	encodingCache.enc = enc
	return enc, nil
}
