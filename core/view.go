package core

import (
	"strconv"
	"strings"

	"pkt.systems/dropgallery/schema"
)

// matchesQuery reports whether img belongs to the view for query. An empty
// query matches everything.
func matchesQuery(img schema.Image, query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return true
	}
	if img.HasTag(query) {
		return true
	}
	return strconv.Itoa(img.NumberTag) == query
}

// filterImages projects the authoritative list through query. The result is
// a deep copy in list order.
func filterImages(images []schema.Image, query string) []schema.Image {
	out := make([]schema.Image, 0, len(images))
	for _, img := range images {
		if matchesQuery(img, query) {
			out = append(out, img.Clone())
		}
	}
	return out
}

// moveInList relocates the record id inside list so that it lands at dest in
// the view for query. Records outside the view keep their relative order.
func moveInList(list []schema.Image, query string, id schema.ImageID, dest int) []schema.Image {
	idx := indexOfImage(list, id)
	if idx < 0 {
		return list
	}
	moved := list[idx]
	rest := make([]schema.Image, 0, len(list))
	rest = append(rest, list[:idx]...)
	rest = append(rest, list[idx+1:]...)

	positions := make([]int, 0, len(rest))
	for i, img := range rest {
		if matchesQuery(img, query) {
			positions = append(positions, i)
		}
	}

	insertAt := len(rest)
	switch {
	case dest < len(positions):
		insertAt = positions[dest]
	case len(positions) > 0:
		insertAt = positions[len(positions)-1] + 1
	}

	out := make([]schema.Image, 0, len(list))
	out = append(out, rest[:insertAt]...)
	out = append(out, moved)
	out = append(out, rest[insertAt:]...)
	return out
}

func indexOfImage(list []schema.Image, id schema.ImageID) int {
	for i, img := range list {
		if img.ID == id {
			return i
		}
	}
	return -1
}

func nextNumberTag(list []schema.Image) int {
	highest := 0
	for _, img := range list {
		if img.NumberTag > highest {
			highest = img.NumberTag
		}
	}
	return highest + 1
}

func blobReferenced(list []schema.Image, id schema.BlobID) bool {
	if id == "" {
		return false
	}
	for _, img := range list {
		if img.Blob == id {
			return true
		}
	}
	return false
}
