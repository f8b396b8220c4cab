package discover

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"zhihu_archiver/internal/links"
	"zhihu_archiver/internal/models"
)

var errUnreadablePage = errors.New("listing page is neither JSON nor HTML")

// flexID accepts ids encoded as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type listingItem struct {
	ID       flexID `json:"id"`
	Type     string `json:"type"`
	Question *struct {
		ID flexID `json:"id"`
	} `json:"question"`
}

type listingResponse struct {
	Paging struct {
		IsEnd bool `json:"is_end"`
	} `json:"paging"`
	Data  []listingItem `json:"data"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type page struct {
	ids []models.ContentIdentifier
	end bool
}

var anchorSelectors = map[models.Kind]string{
	models.KindAnswer:  `a[href*="/answer/"]`,
	models.KindArticle: `a[href*="zhuanlan.zhihu.com/p/"]`,
	models.KindPin:     `a[href*="/pin/"]`,
}

// parsePage decodes a listing page. HTML bodies are scanned for content
// anchors and always end the listing.
func parsePage(body []byte, l listing) (page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return parseHTMLPage(trimmed, l)
	}

	var resp listingResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return page{}, fmt.Errorf("%w: %v", errUnreadablePage, err)
	}
	if resp.Error != nil {
		return page{}, fmt.Errorf("listing error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	p := page{end: resp.Paging.IsEnd}
	for _, item := range resp.Data {
		if item.ID == "" {
			continue
		}
		if item.Type != "" && item.Type != string(l.kind) {
			continue
		}
		switch l.kind {
		case models.KindAnswer:
			qid := l.questionID
			if item.Question != nil && item.Question.ID != "" {
				qid = string(item.Question.ID)
			}
			if qid == "" {
				continue
			}
			p.ids = append(p.ids, links.NewAnswer(qid, string(item.ID)))
		case models.KindArticle:
			p.ids = append(p.ids, links.NewArticle(string(item.ID)))
		case models.KindPin:
			p.ids = append(p.ids, links.NewPin(string(item.ID)))
		}
	}
	return p, nil
}

func parseHTMLPage(body []byte, l listing) (page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page{}, fmt.Errorf("%w: %v", errUnreadablePage, err)
	}

	p := page{end: true}
	doc.Find(anchorSelectors[l.kind]).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		id, err := links.ParseItemURLIn(href, l.questionID)
		if err != nil || id.Kind != l.kind {
			return
		}
		p.ids = append(p.ids, id)
	})
	return p, nil
}
