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
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"github.com/nightphotons/contsub/internal/stats"
	"golang.org/x/image/tiff"
)

// Write a grayscale FITS image to 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteMonoTIFF16ToFile(fileName string, min, max, gamma float32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err = f.WriteMonoTIFF16(writer, min, max, gamma); err != nil {
		return err
	}
	if err = writer.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// Write a grayscale FITS image to 16-bit TIFF, mapping [min,max] to the full 16-bit range with the given gamma.
func (f *Image) WriteMonoTIFF16(writer io.Writer, min, max, gamma float32) error {
	width, height := int(f.Width()), int(f.Height())
	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := float32(0)
	if max > min {
		scale = 1 / (max - min)
	}
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := (f.Data[yoffset+x] - min) * scale
			// replace NaNs with zeros for export, else TIFF output breaks
			if math.IsNaN(float64(gray)) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			if gammaInv != 1.0 {
				gray = float32(math.Pow(float64(gray), gammaInv))
			}
			img.SetGray16(x, y, color.Gray16{uint16(gray*65535 + 0.5)})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Read a color or grayscale TIFF image into a FITS image. Values are in [0,65535]
func (f *Image) ReadTIFF(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	t, err := tiff.Decode(bufio.NewReader(file))
	if err != nil {
		return err
	}

	// determine width, height, color depth and number of color channels
	bounds := t.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	channels := colorModelToChannels(t.ColorModel())

	// values are always expanded to 16 bits
	f.FileName = fileName
	f.Bitpix = 16
	f.Naxisn = []int32{int32(width), int32(height)}
	if channels > 1 {
		f.Naxisn = append(f.Naxisn, channels)
	}
	f.Pixels = int32(width) * int32(height) * channels
	f.Bzero, f.Bscale = 0, 1
	f.Data = make([]float32, f.Pixels)
	plane := width * height

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := t.At(bounds.Min.X+x, bounds.Min.Y+y)
			if channels == 1 {
				f.Data[y*width+x] = float32(color.Gray16Model.Convert(c).(color.Gray16).Y)
			} else {
				r, g, b, _ := c.RGBA()
				f.Data[y*width+x] = float32(r)
				f.Data[y*width+x+plane] = float32(g)
				f.Data[y*width+x+2*plane] = float32(b)
			}
		}
	}

	f.Stats = stats.CalcBasicStats(f.Data)
	return nil
}

func colorModelToChannels(m color.Model) int32 {
	switch m {
	case color.AlphaModel, color.GrayModel, color.Alpha16Model, color.Gray16Model:
		return 1
	default:
		return 3 // everything else is converted via RGBA64
	}
}
