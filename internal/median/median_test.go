// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package median

import (
	"testing"
	"github.com/valyala/fastrand"
)

func TestMedianSlice9(t *testing.T) {
	rng:=fastrand.RNG{}
	for round:=0; round<500; round++ {
		a:=[]float32{1,2,3,4,5,6,7,8,9}
		for j:=range a {
			k:=rng.Uint32n(9)
			a[j], a[k] = a[k], a[j]
		}
		if got:=MedianFloat32Slice9(a); got!=5 {
			t.Fatalf("MedianFloat32Slice9 = %g; want 5", got)
		}
	}
}

func TestGatherAndMedian(t *testing.T) {
	// 5x5 image with a hot pixel in the center
	width:=int32(5)
	data:=make([]float32, 25)
	for i:=range data { data[i]=1 }
	data[12]=100
	mask:=CreateMask(width, 1.5)
	if len(mask)!=9 {
		t.Fatalf("len(CreateMask(5, 1.5)) = %d; want 9", len(mask))
	}
	buf:=make([]float32, len(mask))
	if got:=GatherAndMedian(data, 12, mask, buf); got!=1 {
		t.Errorf("GatherAndMedian at hot pixel = %g; want 1", got)
	}
	// corner: only in-range offsets count
	if got:=GatherAndMedian(data, 0, mask, buf); got!=1 {
		t.Errorf("GatherAndMedian at corner = %g; want 1", got)
	}
}
