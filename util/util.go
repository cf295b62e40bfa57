package util

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const KiB = 1024
const MiB = KiB * 1024
const GiB = MiB * 1024

func FormatBytes(bytes int64) string {
	if bytes < KiB {
		return fmt.Sprintf("%dB", bytes)
	} else if bytes < MiB {
		return fmt.Sprintf("%.1fKiB", float64(bytes)/KiB)
	} else if bytes < GiB {
		return fmt.Sprintf("%.1fMiB", float64(bytes)/MiB)
	} else {
		return fmt.Sprintf("%.1fGiB", float64(bytes)/GiB)
	}
}

var unsafeFileChars = regexp.MustCompile(`[\/\\:\*\?"<>\|\p{C}]`)

// FileName derives an output file name for a page. The page title wins, then the last
// non-numeric URL path segment, then the host with dots replaced.
func FileName(uri *url.URL, title, ext string) string {
	name := SanitizeFileName(title)

	if name == "" && uri != nil {
		segments := strings.Split(uri.Path, "/")
		for i := len(segments) - 1; i >= 0; i-- {
			segment := strings.TrimSuffix(segments[i], ".html")
			if segment != "" && !isNumber(segment) {
				name = SanitizeFileName(segment)
				break
			}
		}
	}

	if name == "" && uri != nil {
		host := strings.TrimPrefix(uri.Hostname(), "www.")
		name = strings.ReplaceAll(host, ".", "-")
	}

	if name == "" {
		name = "output"
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return name + ext
}

func SanitizeFileName(name string) string {
	name = unsafeFileChars.ReplaceAllString(name, "-")
	name = strings.Join(strings.Fields(name), " ")
	return strings.Trim(name, " .")
}

func isNumber(str string) bool {
	if _, err := strconv.Atoi(str); err == nil {
		return true
	}

	_, err := strconv.ParseFloat(str, 64)
	return err == nil
}
