package discover_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhihu_archiver/internal/discover"
	"zhihu_archiver/internal/fetcher"
	"zhihu_archiver/internal/links"
	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/session"
)

// fakeAPI serves scripted bodies per URL; each URL has a queue of
// responses and the last one repeats.
type fakeAPI struct {
	mu        sync.Mutex
	responses map[string][]response
	requested []string
}

type response struct {
	body string
	err  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{responses: make(map[string][]response)}
}

func (f *fakeAPI) on(url string, rs ...response) {
	f.responses[url] = rs
}

func (f *fakeAPI) API(_ context.Context, url string) (*session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, url)

	rs, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("unexpected url %s", url)
	}
	r := rs[0]
	if len(rs) > 1 {
		f.responses[url] = rs[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &session.Snapshot{URL: url, FinalURL: url, StatusCode: 200, Body: []byte(r.body)}, nil
}

func body(end bool, items ...string) response {
	return response{body: fmt.Sprintf(`{"paging":{"is_end":%t},"data":[%s]}`, end, strings.Join(items, ","))}
}

func answer(id, qid int) string {
	return fmt.Sprintf(`{"id":%d,"type":"answer","question":{"id":%d}}`, id, qid)
}

func article(id int) string {
	return fmt.Sprintf(`{"id":%d,"type":"article"}`, id)
}

func pin(id string) string {
	return fmt.Sprintf(`{"id":%q,"type":"pin"}`, id)
}

const base = "https://www.zhihu.com"

func userURL(token, tab string, offset int, query string) string {
	u := fmt.Sprintf("%s/api/v4/members/%s/%s?offset=%d&limit=2", base, token, tab, offset)
	if query != "" {
		u += "&" + query
	}
	return u
}

func newDiscoverer(api *fakeAPI) *discover.Discoverer {
	return discover.New(api, discover.Config{PageSize: 2, PageRetries: 1, RetryBackoff: time.Millisecond}, logger.NewNoOp())
}

func keys(m *links.Manifest) []string {
	out := make([]string, 0, m.Len())
	for _, id := range m.Items() {
		out = append(out, id.Key())
	}
	return out
}

func TestDiscover_UserPaginatesAnswersThenArticles(t *testing.T) {
	api := newFakeAPI()
	api.on(userURL("alice", "answers", 0, "sort_by=created"), body(false, answer(11, 1), answer(12, 1)))
	api.on(userURL("alice", "answers", 2, "sort_by=created"), body(true, answer(13, 2)))
	api.on(userURL("alice", "articles", 0, "sort_by=created"), body(true, article(21)))

	target := models.CrawlTarget{Scope: models.ScopeUser, ScopeKey: "https://www.zhihu.com/people/alice"}
	m, err := newDiscoverer(api).Discover(context.Background(), target, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"answer:11", "answer:12", "answer:13", "article:21"}, keys(m))
	got, _ := m.Lookup("answer:13")
	assert.Equal(t, links.AnswerURL("2", "13"), got.CanonicalURL)
}

func TestDiscover_FiltersAndPins(t *testing.T) {
	api := newFakeAPI()
	api.on(userURL("bob", "articles", 0, "sort_by=created"), body(true, article(5)))

	target := models.CrawlTarget{Scope: models.ScopeUser, ScopeKey: "bob", Filters: models.Filters{OnlyArticles: true, IncludePins: true}}
	m, err := newDiscoverer(api).Discover(context.Background(), target, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"article:5"}, keys(m))
	assert.Len(t, api.requested, 1)

	api = newFakeAPI()
	api.on(userURL("bob", "answers", 0, "sort_by=created"), body(true))
	api.on(userURL("bob", "articles", 0, "sort_by=created"), body(true))
	api.on(userURL("bob", "pins", 0, ""), body(true, pin("1400000000000000001")))

	target.Filters = models.Filters{IncludePins: true}
	m, err = newDiscoverer(api).Discover(context.Background(), target, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"pin:1400000000000000001"}, keys(m))
}

func TestDiscover_ItemLimit(t *testing.T) {
	api := newFakeAPI()
	api.on(userURL("c", "answers", 0, "sort_by=created"), body(false, answer(1, 9), answer(2, 9)))
	api.on(userURL("c", "answers", 2, "sort_by=created"), body(false, answer(3, 9), answer(4, 9)))

	target := models.CrawlTarget{Scope: models.ScopeUser, ScopeKey: "c", Filters: models.Filters{ItemLimit: 3}}
	m, err := newDiscoverer(api).Discover(context.Background(), target, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"answer:1", "answer:2", "answer:3"}, keys(m))
	assert.Len(t, api.requested, 2)
}

func TestDiscover_AppendsToExistingManifest(t *testing.T) {
	existing := links.NewManifest(links.NewAnswer("7", "2"), links.NewAnswer("7", "1"))

	api := newFakeAPI()
	url := fmt.Sprintf("%s/api/v4/questions/7/answers?offset=0&limit=2&sort_by=default", base)
	api.on(url, body(true, answer(3, 7), answer(1, 7)))

	target := models.CrawlTarget{Scope: models.ScopeQuestion, ScopeKey: "https://www.zhihu.com/question/7"}
	m, err := newDiscoverer(api).Discover(context.Background(), target, existing)
	require.NoError(t, err)

	assert.Equal(t, []string{"answer:2", "answer:1", "answer:3"}, keys(m))
	assert.Equal(t, 2, existing.Len())
}

func TestDiscover_ShortPageRetriedOnce(t *testing.T) {
	api := newFakeAPI()
	first := userURL("d", "answers", 0, "sort_by=created")
	api.on(first, body(false, answer(1, 1)), body(false, answer(1, 1), answer(2, 1)))
	api.on(userURL("d", "answers", 2, "sort_by=created"), body(false, answer(3, 1)))

	target := models.CrawlTarget{Scope: models.ScopeUser, ScopeKey: "d", Filters: models.Filters{OnlyAnswers: true}}
	m, err := newDiscoverer(api).Discover(context.Background(), target, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"answer:1", "answer:2", "answer:3"}, keys(m))
	// offset 0 twice, offset 2 twice (still short, then exhausted).
	assert.Len(t, api.requested, 4)
}

func TestDiscover_TransientPageErrorRecovered(t *testing.T) {
	api := newFakeAPI()
	api.on(userURL("e", "answers", 0, "sort_by=created"),
		response{err: fmt.Errorf("%w: reset", fetcher.ErrTransientNetwork)},
		body(true, answer(1, 1)),
	)

	target := models.CrawlTarget{Scope: models.ScopeUser, ScopeKey: "e", Filters: models.Filters{OnlyAnswers: true}}
	m, err := newDiscoverer(api).Discover(context.Background(), target, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"answer:1"}, keys(m))
}

func TestDiscover_FailureAbortsPass(t *testing.T) {
	api := newFakeAPI()
	api.on(userURL("f", "answers", 0, "sort_by=created"), body(false, answer(1, 1), answer(2, 1)))
	api.on(userURL("f", "answers", 2, "sort_by=created"), response{err: errors.New("boom")})

	target := models.CrawlTarget{Scope: models.ScopeUser, ScopeKey: "f", Filters: models.Filters{OnlyAnswers: true}}
	m, err := newDiscoverer(api).Discover(context.Background(), target, nil)
	assert.ErrorIs(t, err, discover.ErrDiscoveryFailed)
	assert.Nil(t, m)
}

func TestDiscover_MalformedJSONRetriedThenFails(t *testing.T) {
	api := newFakeAPI()
	api.on(userURL("g", "answers", 0, "sort_by=created"), response{body: `{"data":`})

	target := models.CrawlTarget{Scope: models.ScopeUser, ScopeKey: "g", Filters: models.Filters{OnlyAnswers: true}}
	_, err := newDiscoverer(api).Discover(context.Background(), target, nil)
	assert.ErrorIs(t, err, discover.ErrDiscoveryFailed)
	assert.Len(t, api.requested, 2)
}

func TestDiscover_HTMLFallback(t *testing.T) {
	api := newFakeAPI()
	url := fmt.Sprintf("%s/api/v4/questions/5/answers?offset=0&limit=2&sort_by=default", base)
	api.on(url, response{body: `<html><body>
		<a href="/question/5/answer/100">one</a>
		<a href="//www.zhihu.com/answer/101">two</a>
		<a href="https://zhuanlan.zhihu.com/p/9">article</a>
	</body></html>`})

	target := models.CrawlTarget{Scope: models.ScopeQuestion, ScopeKey: "5"}
	m, err := newDiscoverer(api).Discover(context.Background(), target, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"answer:100", "answer:101"}, keys(m))
}

func TestDiscover_SingleItemNeedsNoFetch(t *testing.T) {
	api := newFakeAPI()
	target := models.CrawlTarget{Scope: models.ScopeSingleItem, ScopeKey: "https://zhuanlan.zhihu.com/p/42"}
	m, err := newDiscoverer(api).Discover(context.Background(), target, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"article:42"}, keys(m))
	assert.Empty(t, api.requested)

	_, err = newDiscoverer(api).Discover(context.Background(), models.CrawlTarget{Scope: models.ScopeSingleItem, ScopeKey: "nope"}, nil)
	assert.ErrorIs(t, err, discover.ErrDiscoveryFailed)
}
