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

package common

import (
	"fmt"
)

type LTypeId int

const (
	LTID_INVALID   LTypeId = 0
	LTID_NULL      LTypeId = 1
	LTID_UNKNOWN   LTypeId = 2
	LTID_ANY       LTypeId = 3
	LTID_BOOLEAN   LTypeId = 10
	LTID_TINYINT   LTypeId = 11
	LTID_SMALLINT  LTypeId = 12
	LTID_INTEGER   LTypeId = 13
	LTID_BIGINT    LTypeId = 14
	LTID_DECIMAL   LTypeId = 21
	LTID_FLOAT     LTypeId = 22
	LTID_DOUBLE    LTypeId = 23
	LTID_VARCHAR   LTypeId = 25
	LTID_UTINYINT  LTypeId = 28
	LTID_USMALLINT LTypeId = 29
	LTID_UINTEGER  LTypeId = 30
	LTID_UBIGINT   LTypeId = 31
	LTID_HUGEINT   LTypeId = 50
)

var lTypeIdToStr = map[LTypeId]string{
	LTID_INVALID:   "LTID_INVALID",
	LTID_NULL:      "LTID_NULL",
	LTID_UNKNOWN:   "LTID_UNKNOWN",
	LTID_ANY:       "LTID_ANY",
	LTID_BOOLEAN:   "LTID_BOOLEAN",
	LTID_TINYINT:   "LTID_TINYINT",
	LTID_SMALLINT:  "LTID_SMALLINT",
	LTID_INTEGER:   "LTID_INTEGER",
	LTID_BIGINT:    "LTID_BIGINT",
	LTID_DECIMAL:   "LTID_DECIMAL",
	LTID_FLOAT:     "LTID_FLOAT",
	LTID_DOUBLE:    "LTID_DOUBLE",
	LTID_VARCHAR:   "LTID_VARCHAR",
	LTID_UTINYINT:  "LTID_UTINYINT",
	LTID_USMALLINT: "LTID_USMALLINT",
	LTID_UINTEGER:  "LTID_UINTEGER",
	LTID_UBIGINT:   "LTID_UBIGINT",
	LTID_HUGEINT:   "LTID_HUGEINT",
}

func (id LTypeId) String() string {
	if s, has := lTypeIdToStr[id]; has {
		return s
	}
	panic(fmt.Sprintf("usp %d", id))
}

type PhyType int

const (
	NA      PhyType = 0
	BOOL    PhyType = 1
	UINT8   PhyType = 2
	INT8    PhyType = 3
	UINT16  PhyType = 4
	INT16   PhyType = 5
	UINT32  PhyType = 6
	INT32   PhyType = 7
	UINT64  PhyType = 8
	INT64   PhyType = 9
	FLOAT   PhyType = 11
	DOUBLE  PhyType = 12
	VARCHAR PhyType = 200
	INT128  PhyType = 204
	UNKNOWN PhyType = 205
	DECIMAL PhyType = 209

	INVALID PhyType = 255
)

var pTypeToStr = map[PhyType]string{
	NA:      "NA",
	BOOL:    "BOOL",
	UINT8:   "UINT8",
	INT8:    "INT8",
	UINT16:  "UINT16",
	INT16:   "INT16",
	UINT32:  "UINT32",
	INT32:   "INT32",
	UINT64:  "UINT64",
	INT64:   "INT64",
	FLOAT:   "FLOAT",
	DOUBLE:  "DOUBLE",
	VARCHAR: "VARCHAR",
	INT128:  "INT128",
	UNKNOWN: "UNKNOWN",
	DECIMAL: "DECIMAL",
	INVALID: "INVALID",
}

func (pt PhyType) String() string {
	if s, has := pTypeToStr[pt]; has {
		return s
	}
	panic(fmt.Sprintf("usp %d", pt))
}

// Size is the byte width of the fixed part of the physical
// representation inside a storage cell. VARCHAR stores a
// (heap offset, length) pair, DECIMAL a coefficient plus scale.
func (pt PhyType) Size() int {
	switch pt {
	case BOOL:
		return 1
	case INT8, UINT8:
		return 1
	case INT16, UINT16:
		return 2
	case INT32, UINT32:
		return 4
	case INT64, UINT64:
		return 8
	case FLOAT:
		return 4
	case DOUBLE:
		return 8
	case VARCHAR:
		return 8
	case DECIMAL:
		return 16
	default:
		panic("usp")
	}
}

func (pt PhyType) IsSigned() bool {
	switch pt {
	case INT8, INT16, INT32, INT64:
		return true
	default:
		return false
	}
}

func (pt PhyType) IsUnsigned() bool {
	switch pt {
	case UINT8, UINT16, UINT32, UINT64:
		return true
	default:
		return false
	}
}

func (pt PhyType) IsFloat() bool {
	return pt == FLOAT || pt == DOUBLE
}
