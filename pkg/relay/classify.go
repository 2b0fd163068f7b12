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
package relay

import (
	"context"
	"errors"
	"strings"
)

// Error categories for failures surfacing from the event source.
const (
	ErrorCategoryDisconnect = "disconnect"
	ErrorCategoryCancelled  = "cancelled"
	ErrorCategoryTimeout    = "timeout"
	ErrorCategoryRateLimit  = "rate_limit"
	ErrorCategoryAuth       = "auth"
	ErrorCategoryGeneric    = "generic"
)

// ClassifyError buckets an upstream error so the controller can pick a
// terminal state and a user-facing message for it.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if IsDisconnect(err) {
		return ErrorCategoryDisconnect
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCategoryCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429") || strings.Contains(msg, "overloaded") {
		return ErrorCategoryRateLimit
	}
	if strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "api key") || strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") {
		return ErrorCategoryAuth
	}
	return ErrorCategoryGeneric
}
