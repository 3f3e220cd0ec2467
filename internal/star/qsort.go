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


package star


// Sort an array of detection blobs in descending order, based on pixel value
// Array must not contain IEEE NaN
func QSortBlobsDesc(a []blob) {
    if len(a)>1 {
        index := qPartitionBlobsDesc(a)
        QSortBlobsDesc(a[:index+1])
        QSortBlobsDesc(a[index+1:])
    }
}

// Partitions with the middle pivot element, and returns the pivot index.
// Values greater than the pivot are moved left of the pivot, those less are moved right.
func qPartitionBlobsDesc(a []blob) int {
    left, right:=0, len(a)-1
    pivot := a[(left+right)>>1].Value
    l := left -1
    r := right+1
    for {
        for {
            l++
            if a[l].Value<=pivot { break }
        }
        for {
            r--
            if a[r].Value>=pivot { break }
        }
        if l >= r { return r }
        a[l], a[r] = a[r], a[l]
    }
}

// Sort an array of detections in descending order, based on peak
// Array must not contain IEEE NaN
func QSortDetectionsDesc(a []Detection) {
    if len(a)>1 {
        index := qPartitionDetectionsDesc(a)
        QSortDetectionsDesc(a[:index+1])
        QSortDetectionsDesc(a[index+1:])
    }
}

func qPartitionDetectionsDesc(a []Detection) int {
    left, right:=0, len(a)-1
    pivot := a[(left+right)>>1].Peak
    l := left -1
    r := right+1
    for {
        for {
            l++
            if a[l].Peak<=pivot { break }
        }
        for {
            r--
            if a[r].Peak>=pivot { break }
        }
        if l >= r { return r }
        a[l], a[r] = a[r], a[l]
    }
}
