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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhyTypeSize(t *testing.T) {
	assert.Equal(t, 1, BOOL.Size())
	assert.Equal(t, 4, INT32.Size())
	assert.Equal(t, 8, INT64.Size())
	assert.Equal(t, 4, FLOAT.Size())
	assert.Equal(t, 8, DOUBLE.Size())
	assert.Equal(t, 8, VARCHAR.Size())
	assert.Equal(t, 16, DECIMAL.Size())
}

func TestInternalTypes(t *testing.T) {
	assert.Equal(t, INT32, IntegerType().PTyp)
	assert.Equal(t, UINT64, UbigintType().PTyp)
	assert.Equal(t, DECIMAL, DecimalType(10, 2).PTyp)
	assert.True(t, VarcharType().IsVariableLength())
	assert.False(t, BigintType().IsVariableLength())
}

func TestLTypeEqual(t *testing.T) {
	assert.True(t, IntegerType().Equal(IntegerType()))
	assert.False(t, IntegerType().Equal(BigintType()))
	assert.True(t, DecimalType(10, 2).Equal(DecimalType(10, 2)))
	assert.False(t, DecimalType(10, 2).Equal(DecimalType(10, 3)))
}

func TestImplicitCast(t *testing.T) {
	assert.True(t, ImplicitCast(IntegerType(), BigintType()) >= 0)
	assert.True(t, ImplicitCast(IntegerType(), DoubleType()) >= 0)
	assert.True(t, ImplicitCast(FloatType(), DoubleType()) >= 0)
	// narrowing is never implicit
	assert.Equal(t, int64(-1), ImplicitCast(BigintType(), IntegerType()))
	assert.Equal(t, int64(-1), ImplicitCast(DoubleType(), FloatType()))
	// everything widens to varchar
	assert.True(t, ImplicitCast(DoubleType(), VarcharType()) >= 0)
}

func TestMaxLTypePromotion(t *testing.T) {
	assert.Equal(t, LTID_BIGINT, MaxLType(IntegerType(), BigintType()).Id)
	assert.Equal(t, LTID_DOUBLE, MaxLType(BigintType(), DoubleType()).Id)
	// signed/unsigned pairs upcast to the next wider signed type
	assert.Equal(t, LTID_BIGINT, MaxLType(IntegerType(), UintegerType()).Id)
	assert.Equal(t, LTID_HUGEINT, MaxLType(BigintType(), UbigintType()).Id)

	d := MaxLType(DecimalType(10, 2), DecimalType(12, 4))
	assert.Equal(t, LTID_DECIMAL, d.Id)
	assert.Equal(t, 12, d.Width)
	assert.Equal(t, 4, d.Scale)
}

func TestMaxLTypeDecimalWithInteger(t *testing.T) {
	d := MaxLType(IntegerType(), DecimalType(4, 2))
	assert.Equal(t, LTID_DECIMAL, d.Id)
	// widened to hold any integer plus the fractional digits
	assert.Equal(t, 12, d.Width)
	assert.Equal(t, 2, d.Scale)
}

func TestGetDecimalSize(t *testing.T) {
	can, width, scale := IntegerType().GetDecimalSize()
	assert.True(t, can)
	assert.Equal(t, 10, width)
	assert.Equal(t, 0, scale)

	can, width, scale = DecimalType(10, 2).GetDecimalSize()
	assert.True(t, can)
	assert.Equal(t, 10, width)
	assert.Equal(t, 2, scale)

	can, _, _ = VarcharType().GetDecimalSize()
	assert.False(t, can)
}
