// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shortly"
)

// Stats returns the record with clicks adjusted by the not-yet-flushed
// click_buffer value, giving near-real-time counts without waiting for the
// ingestion flush.
func (s *Service) Stats(ctx context.Context, code string) (*shortly.URL, error) {
	if !shortly.ValidCode(code) {
		return nil, ErrNotFound
	}
	u, err := s.store.GetByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: oltp read: %v", ErrUnavailable, err)
	}
	buffered, err := s.cache.ClickBufferValue(ctx, code)
	if err != nil {
		s.logger.Debug("buffered click read failed", zap.String("short_code", code), zap.Error(err))
		return u, nil
	}
	if buffered > 0 {
		u.Clicks += buffered
	}
	return u, nil
}
