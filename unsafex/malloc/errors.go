/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package malloc

import "errors"

var (
	// ErrArenaTooSmall is returned when the arena cannot hold a single block header.
	ErrArenaTooSmall = errors.New("malloc: arena smaller than one block header")

	// ErrArenaTooLarge is returned when the arena exceeds MaxArenaSize.
	ErrArenaTooLarge = errors.New("malloc: arena larger than max arena size")

	// ErrMisaligned is returned when a caller-provided arena does not start on an Alignment boundary.
	ErrMisaligned = errors.New("malloc: arena base not aligned")

	// ErrInvalidSize is returned for allocation requests <= 0.
	ErrInvalidSize = errors.New("malloc: invalid allocation size")

	// ErrNoSpace indicates that no free block is large enough for the rounded request.
	ErrNoSpace = errors.New("malloc: no free block large enough")

	// ErrBadAddress indicates a deallocation of an address that is not currently in use.
	ErrBadAddress = errors.New("malloc: address not allocated")

	// ErrCorrupt indicates that the block list no longer satisfies its invariants.
	ErrCorrupt = errors.New("malloc: corrupted block list")

	// ErrReleased is returned by any operation after Release.
	ErrReleased = errors.New("malloc: use after release")
)
