package catalog

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"muhost/internal/common/fsutil"
	"muhost/internal/config"
)

var (
	bucketPattern  = regexp.MustCompile(`(?i)^([24])x_(MangaJaNai|IllustrationJaNai)_(\d+)p_.*\.(pth|safetensors)$`)
	qualityPattern = regexp.MustCompile(`(?i)^([24])x_IllustrationJaNai_V1_(ESRGAN|DAT2)_\d+k\.(pth|safetensors)$`)
)

// ScanResult is what a directory scan found, in directory order.
type ScanResult struct {
	Buckets []Entry
	Quality []Entry
}

// Scan lists dir and recognizes checkpoints by their published file names.
// A missing directory yields an empty result.
func Scan(dir string) (*ScanResult, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return &ScanResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	res := &ScanResult{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if b, ok := MatchBucket(e.Name()); ok {
			res.Buckets = append(res.Buckets, b)
		}
		if q, ok := MatchQuality(e.Name()); ok {
			res.Quality = append(res.Quality, q)
		}
	}
	return res, nil
}

// MatchBucket parses names like 2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors.
func MatchBucket(name string) (Entry, bool) {
	m := bucketPattern.FindStringSubmatch(name)
	if m == nil {
		return Entry{}, false
	}
	scale, _ := strconv.Atoi(m[1])
	kind := config.KindManga
	if strings.Contains(strings.ToLower(m[2]), "illustration") {
		kind = config.KindIllustration
	}
	return Entry{Kind: kind, Scale: scale, Bucket: m[3], File: name}, true
}

// MatchQuality parses IllustrationJaNai V1 quality variants: ESRGAN files
// serve the balanced tier and DAT2 files the best tier.
func MatchQuality(name string) (Entry, bool) {
	m := qualityPattern.FindStringSubmatch(name)
	if m == nil {
		return Entry{}, false
	}
	scale, _ := strconv.Atoi(m[1])
	tier := QualityBalanced
	if strings.EqualFold(m[2], "DAT2") {
		tier = QualityBest
	}
	return Entry{Kind: config.KindIllustration, Scale: scale, Bucket: tier, File: name}, true
}
