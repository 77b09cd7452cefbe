// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package agentrt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenEstimator counts tokens with cl100k_base encoding (a reasonable
// Claude-compatible approximation) for the vendor adapters that don't
// report usage on every turn end event, so the ContextTracker still has
// something to publish. Grounded on pkg/agent.TokenCounter's singleton
// tiktoken encoder with a char-based fallback if the encoding can't load.
type tokenEstimator struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

var (
	globalEstimator     *tokenEstimator
	globalEstimatorOnce sync.Once
)

// defaultTokenEstimator returns the process-wide estimator, loading the
// encoding once.
func defaultTokenEstimator() *tokenEstimator {
	globalEstimatorOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			globalEstimator = &tokenEstimator{}
			return
		}
		globalEstimator = &tokenEstimator{encoder: enc}
	})
	return globalEstimator
}

// count returns the estimated token count for text, falling back to a
// char/4 approximation if the encoder failed to load.
func (e *tokenEstimator) count(text string) int {
	if e.encoder == nil {
		return len(text) / 4
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoder.Encode(text, nil, nil))
}
