// Copyright 2024-2025 queryforge
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codegen

import (
	"fmt"

	"github.com/queryforge/jitgen/pkg/common"
	"github.com/queryforge/jitgen/pkg/util"
)

// Type describes a SQL-typed slot: logical type identity, nullability,
// and the dispatch tables that lower operators on it. Immutable; two
// Types are interchangeable iff identity and nullability match.
type Type struct {
	common.LType
	Nullable bool
	_ts      *TypeSystem
}

func MakeType(lt common.LType, nullable bool, ts *TypeSystem) Type {
	util.AssertFunc(ts != nil)
	util.AssertFunc(lt.Id != common.LTID_INVALID)
	return Type{LType: lt, Nullable: nullable, _ts: ts}
}

func (t Type) TypeSystem() *TypeSystem {
	return t._ts
}

func (t Type) Equal(o Type) bool {
	return t.LType.Equal(o.LType) && t.Nullable == o.Nullable
}

func (t Type) AsNullable(nullable bool) Type {
	t.Nullable = nullable
	return t
}

func (t Type) WithLType(lt common.LType) Type {
	t.LType = lt
	return t
}

func (t Type) String() string {
	if t.Nullable {
		return fmt.Sprintf("%v?", t.LType)
	}
	return t.LType.String()
}
