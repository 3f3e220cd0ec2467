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


package fits

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Output formats by file name suffix
type Format int

const (
	FormatUnknown Format = iota
	FormatFITS
	FormatFITSGzip
	FormatTIFF
)

var formatNames=[]string{"unknown", "FITS", "gzipped FITS", "TIFF"}

func (f Format) String() string {
	if f<0 || int(f)>=len(formatNames) { return formatNames[0] }
	return formatNames[f]
}

// Determines the output format from the file name suffix
func FormatFromFileName(fileName string) Format {
	fnLower:=strings.ToLower(fileName)
	for _,ext:=range []string{".fits", ".fit", ".fts"} {
		if strings.HasSuffix(fnLower, ext) { return FormatFITS }
		if strings.HasSuffix(fnLower, ext+".gz") || strings.HasSuffix(fnLower, ext+".gzip") { return FormatFITSGzip }
	}
	if strings.HasSuffix(fnLower, ".tif") || strings.HasSuffix(fnLower, ".tiff") { return FormatTIFF }
	return FormatUnknown
}

// Writes an in-memory image to a file with given filename, in the format given by the suffix.
// Creates/overwrites the file if necessary
func (fits *Image) WriteFile(fileName string) error {
	format:=FormatFromFileName(fileName)
	if format==FormatUnknown { return fmt.Errorf("%d: unknown suffix for output file %s", fits.ID, fileName) }
	if format==FormatTIFF {
		if !fits.IsMono() { return fmt.Errorf("%d: cannot write %s pixel image as mono TIFF", fits.ID, fits.DimensionsToString()) }
		if fits.Stats==nil { fits.UpdateStats() }
		return fits.WriteMonoTIFF16ToFile(fileName, fits.Stats.Min, fits.Stats.Max, 1)
	}

	f, err:=os.Create(fileName)
	if err!=nil { return err }
	defer f.Close()

	w:=bufio.NewWriter(f)
	if format==FormatFITSGzip {
		gz:=gzip.NewWriter(w)
		if err=fits.Write(gz); err!=nil { return err }
		if err=gz.Close(); err!=nil { return err }
	} else {
		if err=fits.Write(w); err!=nil { return err }
	}
	if err=w.Flush(); err!=nil { return err }
	return f.Close()
}

// Writes an in-memory FITS image to an io.Writer.
// Emits all retained header keys in sorted order after the mandatory ones.
func (fits *Image) Write(f io.Writer) error {
	sb:=strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -32, "    32-bit floating point")
	writeInt32(&sb, "NAXIS",  int32(len(fits.Naxisn)), "[1] Number of axis")
	for i:=0; i<len(fits.Naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d",i+1), fits.Naxisn[i], "[1] Axis size")
	}
	writeFloat64(&sb, "BZERO", float64(fits.Bzero), "[1] Zero offset")
	writeFloat64(&sb, "BSCALE", float64(fits.Bscale), "[1] Value scaler")

	h:=&fits.Header
	for _,k:=range sortedKeys(h.Bools)   { writeBool   (&sb, k, h.Bools[k], "") }
	for _,k:=range sortedKeys(h.Ints)    { writeInt32  (&sb, k, h.Ints[k], "") }
	for _,k:=range sortedKeys(h.Floats)  { writeFloat64(&sb, k, h.Floats[k], "") }
	for _,k:=range sortedKeys(h.Strings) { writeString (&sb, k, h.Strings[k]) }
	for _,k:=range sortedKeys(h.Dates)   { writeString (&sb, k, h.Dates[k]) }
	for _,c:=range h.Comments { writeText(&sb, "COMMENT", c) }
	for _,c:=range h.History  { writeText(&sb, "HISTORY", c) }
	writeEnd(&sb)

	// Pad current header block with spaces if necessary
	bytesInHeaderBlock:=(sb.Len() % fitsBlockSize)
	if bytesInHeaderBlock>0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-bytesInHeaderBlock))
	}

	_, err:=io.WriteString(f, sb.String())
	if err!=nil { return err }

	// Write payload data, replacing NaNs with zeros for compatibility
	if err=writeFloat32Array(f, fits.Data, true); err!=nil { return err }

	// Pad data block with zeros
	bytesInDataBlock:=(len(fits.Data)*4) % fitsBlockSize
	if bytesInDataBlock>0 {
		_, err=f.Write(make([]byte, fitsBlockSize-bytesInDataBlock))
	}
	return err
}

// Header keys which are written by Write() from the image fields, and must not be duplicated
var structuralKeys=map[string]bool{"SIMPLE":true, "BITPIX":true, "NAXIS":true, "BZERO":true, "BSCALE":true, "END":true, "EXTEND":true}

func sortedKeys[V any](m map[string]V) []string {
	keys:=make([]string, 0, len(m))
	for k:=range m {
		if len(k)>8 || structuralKeys[k] || strings.HasPrefix(k, "NAXIS") { continue }
		keys=append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	v:="F"
	if value { v="T" }
	writeCard(w, key, fmt.Sprintf("%20s", v), comment)
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	writeCard(w, key, fmt.Sprintf("%20d", value), comment)
}

// Writes a FITS header float64 value. Always emits a decimal point and exponent so readers see a float
func writeFloat64(w io.Writer, key string, value float64, comment string) {
	writeCard(w, key, fmt.Sprintf("%20s", strconv.FormatFloat(value, 'E', 13, 64)), comment)
}

// Writes a fixed-format card with value and optional comment, padded to the line size
func writeCard(w io.Writer, key, value, comment string) {
	if len(key)>8 { key=key[0:8] }
	line:=fmt.Sprintf("%-8s= %s", key, value)
	if comment!="" { line+=" / "+comment }
	fmt.Fprint(w, padLine(line))
}

// Writes a FITS header string value on a single card, with escaping. Overlong values are truncated
func writeString(w io.Writer, key, value string) {
	if len(key)>8 { key=key[0:8] }
	value=strings.ReplaceAll(value, "'", "''")
	maxLen:=HeaderLineSize-len("KEYWORD = ''")
	if len(value)>maxLen {
		value=value[:maxLen]
		// do not leave half of an escaped quote at the end
		if strings.HasSuffix(value, "'") && !strings.HasSuffix(value, "''") { value=value[:len(value)-1] }
	}
	if len(value)<8 { value+=strings.Repeat(" ", 8-len(value)) } // minimum string length per standard
	fmt.Fprint(w, padLine(fmt.Sprintf("%-8s= '%s'", key, value)))
}

// Writes a COMMENT or HISTORY card
func writeText(w io.Writer, key, text string) {
	if len(text)>HeaderLineSize-9 { text=text[:HeaderLineSize-9] }
	fmt.Fprint(w, padLine(fmt.Sprintf("%-8s %s", key, text)))
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprint(w, padLine("END"))
}

func padLine(line string) string {
	if len(line)>HeaderLineSize { return line[:HeaderLineSize] }
	return line+strings.Repeat(" ", HeaderLineSize-len(line))
}

// Writes FITS binary body data in network byte order.
// Optionally replaces NaNs with zeros for compatibility with other software
func writeFloat32Array(w io.Writer, data []float32, replaceNaNs bool) error {
	buf:=make([]byte,bufLen)

	for block:=0; block<len(data); block+=(bufLen>>2) {
		size:=len(data)-block
		if size>(bufLen>>2) { size=(bufLen>>2) }

		for offset:=0; offset<size; offset++ {
			d:=data[block+offset]
			if replaceNaNs && math.IsNaN(float64(d)) { d=0 }
			val:=math.Float32bits(d)
			buf[(offset<<2)+0]=byte(val>>24)
			buf[(offset<<2)+1]=byte(val>>16)
			buf[(offset<<2)+2]=byte(val>> 8)
			buf[(offset<<2)+3]=byte(val    )
		}
		_, err:=w.Write(buf[:(size<<2)])
		if err!=nil { return err }
	}
	return nil
}
