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

// Selects up to maxCount candidates from detections sorted by descending peak.
// Detections with a peak above maxPeak are skipped without consuming a slot, so fainter stars
// backfill the list. A maxPeak <= 0 disables the saturation guard.
// Candidates get dense indices 0..N-1 in selection order and the given box radius.
func Select(detections []Detection, maxCount int, maxPeak float64, radius int) []Candidate {
	if maxCount<=0 { return []Candidate{} }
	n:=maxCount
	if n>len(detections) { n=len(detections) }
	res:=make([]Candidate, 0, n)
	for _,d:=range detections {
		if len(res)>=maxCount { break }
		if maxPeak>0 && d.Peak>maxPeak { continue }
		res=append(res, Candidate{Index:len(res), X:d.X, Y:d.Y, Peak:d.Peak, Radius:radius})
	}
	return res
}
