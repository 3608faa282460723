package service

import (
	"strings"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	xCaptionLimit        = 280
	telegramCaptionLimit = 1024
	redditTitleLimit     = 300
)

type captionService struct{}

func NewCaptionService() CaptionGenerator {
	return &captionService{}
}

// Generate builds every platform's caption from the item's own fields. It never fails.
func (s *captionService) Generate(item *models.WorkItem) map[models.Platform]string {
	desc := derefOr(item.Description, "")
	site := derefOr(item.Website, "")

	headline := item.Name
	if handle := derefOr(item.Handle, ""); handle != "" {
		headline += " by " + handle
	}

	x := headline
	if desc != "" {
		x += " — " + desc
	}
	if site != "" {
		x += "\n" + site
	}

	long := joinParagraphs(headline, desc, site)
	instagram := long
	if site != "" {
		instagram = joinParagraphs(headline, desc, "Link: "+site)
	}

	captions := map[models.Platform]string{
		models.PlatformX:         truncateRunes(x, xCaptionLimit),
		models.PlatformLinkedIn:  long,
		models.PlatformFacebook:  long,
		models.PlatformYoutube:   long,
		models.PlatformInstagram: instagram,
		models.PlatformTelegram:  truncateRunes(long, telegramCaptionLimit),
		models.PlatformReddit:    truncateRunes(item.Name+" — AI Tool You Need to Try", redditTitleLimit),
	}

	log.Debug().Int64("item_id", item.ID).Msg("captions built")
	return captions
}

func joinParagraphs(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
