package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"homespark/harvester/internal/browser"
	"homespark/harvester/internal/browser/browsertest"
	"homespark/harvester/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openPage navigates a fake page to url the way workers do before applying a rule set.
func openPage(t *testing.T, site *browsertest.Site, url string) browser.Page {
	t.Helper()
	b, err := browsertest.NewLauncher(site).Launch(context.Background())
	require.NoError(t, err)
	page, err := b.NewPage(context.Background())
	require.NoError(t, err)
	require.NoError(t, page.Navigate(context.Background(), url))
	return page
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"45 000 000 〒", 45000000},
		{"45 000 000 ₸", 45000000},
		{"от 120 000 ₸/мес", 120000},
		{"15 000 ₸ за сутки", 15000},
	}
	for _, tt := range tests {
		got, err := ParsePrice(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParsePrice("Договорная")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(time.Second)
	for _, site := range domain.Sites {
		rules, err := r.ForSite(site)
		require.NoError(t, err)
		assert.Equal(t, site, rules.Site())
	}

	_, err := r.ForSite("olx")
	assert.ErrorIs(t, err, ErrUnknownSite)
}

const etagiIndex = `<html><body>
<a class="templates-object-card__body yQfYt" href="/realty/101/">A</a>
<a class="templates-object-card__body yQfYt" href="https://almaty.etagi.com/realty/102/">B</a>
<a class="templates-object-card__body yQfYt" href="/realty/101/">A again</a>
<a class="other" href="/realty/999/">ad</a>
</body></html>`

const etagiDetail = `<html><body>
<span data-testid="object_title">2-комн. квартира, 54 м², 7/12 этаж</span>
<span data-testid="object_current_price">32 500 000 ₸</span>
<div data-testid="object_address">Алматы, мкр. Самал-2 <div class="NU4YX">на карте</div></div>
<div class="tv2WS">Продается квартира
с ремонтом</div>
<div data-testid="object_characteristics"><ul>
  <li class="gWNDI"><span class="Y65Dj">Год постройки</span><span class="XVztD">2015</span></li>
  <li class="gWNDI"><span class="Y65Dj">Санузел</span><span class="XVztD">раздельный</span></li>
  <li class="gWNDI"><span class="Y65Dj">Пусто</span></li>
</ul></div>
<div class="msUAD MAfDE" style="background-image: url(&quot;https://cdn.etagi.com/1.jpg&quot;)"></div>
<div class="msUAD MAfDE" style="background-image: url('https://cdn.etagi.com/2.jpg')"></div>
<button class="ertXu"><span>Показать телефон</span></button>
</body></html>`

func TestEtagiRules_ListItemLinks(t *testing.T) {
	pageURL := "https://almaty.etagi.com/realty/?page=1"
	site := browsertest.NewSite().
		Serve(pageURL, etagiIndex).
		Serve("https://almaty.etagi.com/realty/?page=40", `<div class="ZJ0dK">Ничего не найдено</div>`).
		Serve("https://almaty.etagi.com/realty/?page=41", `<html><body></body></html>`)
	rules := NewEtagiRules(time.Second)

	links, err := rules.ListItemLinks(context.Background(), openPage(t, site, pageURL), pageURL)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://almaty.etagi.com/realty/101/",
		"https://almaty.etagi.com/realty/102/",
	}, links)

	_, err = rules.ListItemLinks(context.Background(), openPage(t, site, "https://almaty.etagi.com/realty/?page=40"), "https://almaty.etagi.com/realty/?page=40")
	assert.ErrorIs(t, err, ErrEndOfResults)

	_, err = rules.ListItemLinks(context.Background(), openPage(t, site, "https://almaty.etagi.com/realty/?page=41"), "https://almaty.etagi.com/realty/?page=41")
	assert.ErrorIs(t, err, ErrEndOfResults)
}

func TestEtagiRules_ExtractRecord(t *testing.T) {
	link := "https://almaty.etagi.com/realty/101/"
	revealed := `<html><body><button class="ertXu"><span>+7 701 123 45 67</span></button></body></html>`
	site := browsertest.NewSite().
		Serve(link, etagiDetail).
		ServeAfterClick(link, "button.ertXu", revealed)

	raw, err := NewEtagiRules(time.Second).ExtractRecord(context.Background(), openPage(t, site, link), link)
	require.NoError(t, err)

	assert.Equal(t, int64(32500000), raw.Price)
	assert.Equal(t, "2-комн. квартира, 54 м², 7/12 этаж", raw.Floor)
	assert.Equal(t, "Алматы, мкр. Самал-2", raw.Location)
	assert.Equal(t, "Продается квартира с ремонтом", raw.Description)
	assert.Equal(t, map[string]string{"Год постройки": "2015", "Санузел": "раздельный"}, raw.Characteristics)
	assert.Equal(t, []string{"https://cdn.etagi.com/1.jpg", "https://cdn.etagi.com/2.jpg"}, raw.Photos)
	assert.Equal(t, "+7 701 123 45 67", raw.ContactNumber)
}

func TestEtagiRules_MissingPriceIsAnError(t *testing.T) {
	link := "https://almaty.etagi.com/realty/103/"
	site := browsertest.NewSite().Serve(link, `<span data-testid="object_title">Студия</span>`)

	raw, err := NewEtagiRules(time.Second).ExtractRecord(context.Background(), openPage(t, site, link), link)
	assert.Error(t, err)
	assert.Nil(t, raw, "never a partial record")
}

const krishaDetail = `<html><body>
<div class="offer__sidebar"><div class="offer__price">45 000 000 〒</div></div>
<div class="offer__advert-title"><h1>2-комнатная квартира, 60 м², 5/9 этаж, Бостандыкский р-н</h1></div>
<div class="offer__parameters">
  <dl><dt>Тип дома</dt><dd>кирпичный</dd></dl>
  <dl><dt>Жилой комплекс</dt><dd>Orion</dd></dl>
</div>
<div class="js-description a-text a-text-white-spaces">Уютная
квартира</div>
<div class="gallery__small-item" data-photo-url="https://krisha-photos.kcdn.online/1.jpg"></div>
<div class="gallery__small-item" data-photo-url="https://krisha-photos.kcdn.online/2.jpg"></div>
<button class="show-phones">Показать телефон</button>
</body></html>`

func TestKrishaRules_ListItemLinks(t *testing.T) {
	pageURL := "https://krisha.kz/prodazha/kvartiry/almaty/?page=2"
	site := browsertest.NewSite().
		Serve(pageURL, `<a class="a-card__title" href="/a/show/1">1</a><a class="a-card__title" href="/a/show/2">2</a>`).
		Serve("https://krisha.kz/empty", `<div class="a-search-empty"></div>`)
	rules := NewKrishaRules(time.Second)

	links, err := rules.ListItemLinks(context.Background(), openPage(t, site, pageURL), pageURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://krisha.kz/a/show/1", "https://krisha.kz/a/show/2"}, links)

	_, err = rules.ListItemLinks(context.Background(), openPage(t, site, "https://krisha.kz/empty"), "https://krisha.kz/empty")
	assert.ErrorIs(t, err, ErrEndOfResults)
}

func TestKrishaRules_ExtractRecord(t *testing.T) {
	link := "https://krisha.kz/a/show/1"
	site := browsertest.NewSite().
		Serve(link, krishaDetail).
		ServeAfterClick(link, "button.show-phones", `<div class="offer__contacts-phones"><p> +7 777 000 11 22 </p></div>`)

	raw, err := NewKrishaRules(time.Second).ExtractRecord(context.Background(), openPage(t, site, link), link)
	require.NoError(t, err)

	assert.Equal(t, int64(45000000), raw.Price)
	assert.Equal(t, "2-комнатная квартира, 60 м², 5/9 этаж", raw.Floor)
	assert.Equal(t, "Бостандыкский р-н", raw.Location)
	assert.Equal(t, "Уютная квартира", raw.Description)
	assert.Equal(t, map[string]string{"Тип дома": "кирпичный", "Жилой комплекс": "Orion"}, raw.Characteristics)
	assert.Len(t, raw.Photos, 2)
	assert.Equal(t, "+7 777 000 11 22", raw.ContactNumber)
}

func TestKrishaRules_HiddenPhoneAndNoDescription(t *testing.T) {
	link := "https://krisha.kz/a/show/2"
	detail := `<div class="offer__sidebar"></div><div class="offer__parameters"></div>
<p class="offer__price">от 250 000 ₸ в месяц</p>
<div class="offer__advert-title"><h1>1-комнатная квартира, 35 м², Алмалинский р-н</h1></div>
<button class="show-phones">Показать</button>`
	site := browsertest.NewSite().
		Serve(link, detail).
		ServeAfterClick(link, "button.show-phones", `<div class="a-phones__hidden"><span class="phone">+7 777 ***</span></div>`)

	raw, err := NewKrishaRules(time.Second).ExtractRecord(context.Background(), openPage(t, site, link), link)
	require.NoError(t, err)

	assert.Equal(t, int64(250000), raw.Price)
	assert.Equal(t, "Нет описания", raw.Description)
	assert.Equal(t, "+7 *** *** ****", raw.ContactNumber)
	assert.Equal(t, "Алмалинский р-н", raw.Location)
	assert.Equal(t, "1-комнатная квартира, 35 м², Алмалинский р-н", raw.Floor, "no floor marker keeps the whole title")
	assert.NotNil(t, raw.Photos)
}

func TestKrishaRules_PageNotLoaded(t *testing.T) {
	link := "https://krisha.kz/a/show/3"
	site := browsertest.NewSite().Serve(link, `<html><body>captcha</body></html>`)

	_, err := NewKrishaRules(time.Second).ExtractRecord(context.Background(), openPage(t, site, link), link)
	assert.ErrorContains(t, err, "offer__sidebar")
}

const knDetail = `<html><body>
<div class="col-content title"><h1>Сдается 2-комнатная квартира, 50 м², посуточно, Абая 150</h1></div>
<span class="price">18 000 ₸</span>
<div class="address">Алматы, Бостандыкский р-н <a href="/map">карта</a></div>
<p class="description-text">Чисто,
уютно</p>
<table><tbody>
  <tr><th> Этаж </th><td> 4 из 9 </td></tr>
  <tr><th>Мебель</th><td>есть</td></tr>
</tbody></table>
<div class="image-preview-list">
  <a rel="object-image" href="/img/1.jpg"></a>
  <a rel="object-image" href="/img/2.jpg"></a>
</div>
<span class="js-all-phones-view block-all-phones-view"><span class="con-pers__phone">+7 702 555 44 33</span></span>
</body></html>`

func TestKNRules_ListItemLinks(t *testing.T) {
	pageURL := "https://www.kn.kz/almaty/arenda-kvartir/page/1/"
	site := browsertest.NewSite().Serve(pageURL, `<a class="results-item-street" href="/almaty/arenda-kvartir/123/">Абая</a>`)

	links, err := NewKNRules(time.Second).ListItemLinks(context.Background(), openPage(t, site, pageURL), pageURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.kn.kz/almaty/arenda-kvartir/123/"}, links)
}

func TestKNRules_ExtractRecord(t *testing.T) {
	link := "https://www.kn.kz/almaty/arenda-kvartir/123/"
	site := browsertest.NewSite().Serve(link, knDetail)

	raw, err := NewKNRules(time.Second).ExtractRecord(context.Background(), openPage(t, site, link), link)
	require.NoError(t, err)

	assert.Equal(t, int64(18000), raw.Price)
	assert.Equal(t, "Сдается 2-комнатная квартира, 50 м²", raw.Floor)
	assert.Equal(t, "Алматы, Бостандыкский р-н, Абая 150", raw.Location)
	assert.Equal(t, "Чисто, уютно", raw.Description)
	assert.Equal(t, map[string]string{"Этаж": "4 из 9", "Мебель": "есть"}, raw.Characteristics)
	assert.Equal(t, []string{"https://www.kn.kz/img/1.jpg", "https://www.kn.kz/img/2.jpg"}, raw.Photos)
	assert.Equal(t, "+7 702 555 44 33", raw.ContactNumber)
}

func TestKNRules_MissingPhone(t *testing.T) {
	link := "https://www.kn.kz/almaty/arenda-kvartir/124/"
	site := browsertest.NewSite().Serve(link, `<div class="col-content title"><h1>Квартира</h1></div><span class="price">1</span><div class="address">Алматы</div>`)

	_, err := NewKNRules(time.Second).ExtractRecord(context.Background(), openPage(t, site, link), link)
	var missing *MissingFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "contact number", missing.Field)
}
