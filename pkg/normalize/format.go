package normalize

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/menta2k/geomask/pkg/fault"
)

// container describes a format we refuse before decoding
type container struct {
	name   string
	exts   []string
	brands []string // ISO BMFF major brands
	magic  [][]byte
	advice string
}

var knownContainers = []container{
	{
		name:   "heic",
		exts:   []string{".heic", ".heics"},
		brands: []string{"heic", "heix", "hevc", "hevx", "heim", "heis"},
		advice: "HEIC photos are not supported; export the image as JPEG or PNG (on iOS: Settings > Camera > Formats > Most Compatible) and select it again",
	},
	{
		name:   "heif",
		exts:   []string{".heif", ".heifs", ".hif"},
		brands: []string{"mif1", "msf1"},
		advice: "HEIF images are not supported; export the image as JPEG or PNG and select it again",
	},
	{
		name:   "avif",
		exts:   []string{".avif"},
		brands: []string{"avif", "avis"},
		advice: "AVIF images are not supported; convert the image to JPEG or PNG and select it again",
	},
	{
		name:   "tiff",
		exts:   []string{".tif", ".tiff"},
		magic:  [][]byte{[]byte("II*\x00"), []byte("MM\x00*")},
		advice: "TIFF files are not supported; save the image as JPEG or PNG and select it again",
	},
	{
		name:   "pdf",
		exts:   []string{".pdf"},
		magic:  [][]byte{[]byte("%PDF")},
		advice: "PDF documents are not images; export the page as JPEG or PNG and select it again",
	},
}

// CheckFormat rejects containers listed in rejected, matched by file
// extension or by content signature. No decoding is attempted.
func CheckFormat(name string, data []byte, rejected []string) error {
	if len(data) == 0 {
		return fault.New(fault.InputRejected, "normalize", "file is empty; select an image file")
	}

	ext := strings.ToLower(filepath.Ext(name))
	for _, c := range knownContainers {
		if !contains(rejected, c.name) {
			continue
		}
		if contains(c.exts, ext) || c.matches(data) {
			return fault.New(fault.InputRejected, "normalize", fmt.Sprintf("%s (%s)", c.advice, name))
		}
	}
	return nil
}

func (c container) matches(data []byte) bool {
	for _, m := range c.magic {
		if bytes.HasPrefix(data, m) {
			return true
		}
	}
	// ISO BMFF: size(4) "ftyp" brand(4)
	if len(c.brands) > 0 && len(data) >= 12 && string(data[4:8]) == "ftyp" {
		return contains(c.brands, string(data[8:12]))
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
