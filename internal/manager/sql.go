package manager

import "strings"

// dimTechListInsertQuery pivots the six staging tables into one row per
// (store_id, date, nm_id): nm report detail joined to cards for
// vendor_code, left-joined to sales/stock facts and to advert stats
// pivoted by advert_type into the auto/mix/search/cat/card/main column
// groups. advert_type codes: 8 automatic, 9 search+catalog, 6 search
// (legacy), 4 catalog (legacy), 5 product card (legacy), 7 homepage
// (legacy).
const dimTechListInsertQuery = `
INSERT INTO dim_tech_list (
	store_id, date, nm_id, vendor_code,
	open_card_count, add_to_cart_count, orders_count, orders_sum_rub,
	fact_byouts_count, fact_byouts_sum,
	stock_count, to_client_count, from_client_count,
	views_auto, clicks_auto, sum_auto, atbs_auto, orders_auto, shks_auto, price_auto,
	views_mix, clicks_mix, sum_mix, atbs_mix, orders_mix, shks_mix, price_mix,
	views_search, clicks_search, sum_search, atbs_search, orders_search, shks_search, price_search,
	views_cat, clicks_cat, sum_cat, atbs_cat, orders_cat, shks_cat, price_cat,
	views_card, clicks_card, sum_card, atbs_card, orders_card, shks_card, price_card,
	views_main, clicks_main, sum_main, atbs_main, orders_main, shks_main, price_main
)
WITH advert_data AS (
	SELECT
		sas.date,
		sas.nm_id,
		SUM(sas.views) FILTER (WHERE sai.advert_type = 8) AS views_auto,
		SUM(sas.clicks) FILTER (WHERE sai.advert_type = 8) AS clicks_auto,
		SUM(sas.sum) FILTER (WHERE sai.advert_type = 8) AS sum_auto,
		SUM(sas.atbs) FILTER (WHERE sai.advert_type = 8) AS atbs_auto,
		SUM(sas.orders) FILTER (WHERE sai.advert_type = 8) AS orders_auto,
		SUM(sas.shks) FILTER (WHERE sai.advert_type = 8) AS shks_auto,
		SUM(sas.sum_price) FILTER (WHERE sai.advert_type = 8) AS price_auto,

		SUM(sas.views) FILTER (WHERE sai.advert_type = 9) AS views_mix,
		SUM(sas.clicks) FILTER (WHERE sai.advert_type = 9) AS clicks_mix,
		SUM(sas.sum) FILTER (WHERE sai.advert_type = 9) AS sum_mix,
		SUM(sas.atbs) FILTER (WHERE sai.advert_type = 9) AS atbs_mix,
		SUM(sas.orders) FILTER (WHERE sai.advert_type = 9) AS orders_mix,
		SUM(sas.shks) FILTER (WHERE sai.advert_type = 9) AS shks_mix,
		SUM(sas.sum_price) FILTER (WHERE sai.advert_type = 9) AS price_mix,

		SUM(sas.views) FILTER (WHERE sai.advert_type = 6) AS views_search,
		SUM(sas.clicks) FILTER (WHERE sai.advert_type = 6) AS clicks_search,
		SUM(sas.sum) FILTER (WHERE sai.advert_type = 6) AS sum_search,
		SUM(sas.atbs) FILTER (WHERE sai.advert_type = 6) AS atbs_search,
		SUM(sas.orders) FILTER (WHERE sai.advert_type = 6) AS orders_search,
		SUM(sas.shks) FILTER (WHERE sai.advert_type = 6) AS shks_search,
		SUM(sas.sum_price) FILTER (WHERE sai.advert_type = 6) AS price_search,

		SUM(sas.views) FILTER (WHERE sai.advert_type = 4) AS views_cat,
		SUM(sas.clicks) FILTER (WHERE sai.advert_type = 4) AS clicks_cat,
		SUM(sas.sum) FILTER (WHERE sai.advert_type = 4) AS sum_cat,
		SUM(sas.atbs) FILTER (WHERE sai.advert_type = 4) AS atbs_cat,
		SUM(sas.orders) FILTER (WHERE sai.advert_type = 4) AS orders_cat,
		SUM(sas.shks) FILTER (WHERE sai.advert_type = 4) AS shks_cat,
		SUM(sas.sum_price) FILTER (WHERE sai.advert_type = 4) AS price_cat,

		SUM(sas.views) FILTER (WHERE sai.advert_type = 5) AS views_card,
		SUM(sas.clicks) FILTER (WHERE sai.advert_type = 5) AS clicks_card,
		SUM(sas.sum) FILTER (WHERE sai.advert_type = 5) AS sum_card,
		SUM(sas.atbs) FILTER (WHERE sai.advert_type = 5) AS atbs_card,
		SUM(sas.orders) FILTER (WHERE sai.advert_type = 5) AS orders_card,
		SUM(sas.shks) FILTER (WHERE sai.advert_type = 5) AS shks_card,
		SUM(sas.sum_price) FILTER (WHERE sai.advert_type = 5) AS price_card,

		SUM(sas.views) FILTER (WHERE sai.advert_type = 7) AS views_main,
		SUM(sas.clicks) FILTER (WHERE sai.advert_type = 7) AS clicks_main,
		SUM(sas.sum) FILTER (WHERE sai.advert_type = 7) AS sum_main,
		SUM(sas.atbs) FILTER (WHERE sai.advert_type = 7) AS atbs_main,
		SUM(sas.orders) FILTER (WHERE sai.advert_type = 7) AS orders_main,
		SUM(sas.shks) FILTER (WHERE sai.advert_type = 7) AS shks_main,
		SUM(sas.sum_price) FILTER (WHERE sai.advert_type = 7) AS price_main
	FROM staging_advert_stat sas
	JOIN staging_advert_info sai
		ON sas.store_id = sai.store_id AND sas.advert_id = sai.advert_id
	WHERE sas.store_id = $1
	GROUP BY sas.date, sas.nm_id
),
store_nm_report AS (
	SELECT
		snrd.date,
		snrd.nm_id,
		scl.vendor_code,
		snrd.open_card_count,
		snrd.add_to_cart_count,
		snrd.orders_count,
		snrd.orders_sum_rub
	FROM staging_nm_report_detail snrd
	JOIN staging_cards scl ON scl.nm_id = snrd.nm_id
	WHERE snrd.store_id = $1
		AND snrd.date >= CURRENT_DATE - INTERVAL '89 days'
),
sales_fact AS (
	SELECT
		date,
		nm_id,
		COUNT(*) FILTER (WHERE sale_type = 'S') - COUNT(*) FILTER (WHERE sale_type = 'R') AS fact_byouts_count,
		SUM(price_with_disc) AS fact_byouts_sum
	FROM staging_fact_sales
	WHERE store_id = $1
	GROUP BY date, nm_id
),
stock_fact AS (
	SELECT date, nm_id, stock_count, to_client_count, from_client_count
	FROM staging_fact_stock
	WHERE store_id = $1
)
SELECT
	$1, store_nm_report.date, store_nm_report.nm_id, store_nm_report.vendor_code,
	store_nm_report.open_card_count, store_nm_report.add_to_cart_count,
	store_nm_report.orders_count, store_nm_report.orders_sum_rub,
	sales_fact.fact_byouts_count, sales_fact.fact_byouts_sum,
	stock_fact.stock_count, stock_fact.to_client_count, stock_fact.from_client_count,
	advert_data.views_auto, advert_data.clicks_auto, advert_data.sum_auto, advert_data.atbs_auto,
	advert_data.orders_auto, advert_data.shks_auto, advert_data.price_auto,
	advert_data.views_mix, advert_data.clicks_mix, advert_data.sum_mix, advert_data.atbs_mix,
	advert_data.orders_mix, advert_data.shks_mix, advert_data.price_mix,
	advert_data.views_search, advert_data.clicks_search, advert_data.sum_search, advert_data.atbs_search,
	advert_data.orders_search, advert_data.shks_search, advert_data.price_search,
	advert_data.views_cat, advert_data.clicks_cat, advert_data.sum_cat, advert_data.atbs_cat,
	advert_data.orders_cat, advert_data.shks_cat, advert_data.price_cat,
	advert_data.views_card, advert_data.clicks_card, advert_data.sum_card, advert_data.atbs_card,
	advert_data.orders_card, advert_data.shks_card, advert_data.price_card,
	advert_data.views_main, advert_data.clicks_main, advert_data.sum_main, advert_data.atbs_main,
	advert_data.orders_main, advert_data.shks_main, advert_data.price_main
FROM store_nm_report
LEFT JOIN sales_fact ON sales_fact.nm_id = store_nm_report.nm_id AND sales_fact.date = store_nm_report.date
LEFT JOIN stock_fact ON stock_fact.nm_id = store_nm_report.nm_id AND stock_fact.date = store_nm_report.date
LEFT JOIN advert_data ON advert_data.nm_id = store_nm_report.nm_id AND advert_data.date = store_nm_report.date
ORDER BY store_nm_report.date, store_nm_report.nm_id`

// dimTechListSelectList renders dimTechListColumns as a comma-separated
// select list for the export stage's read query.
func dimTechListSelectList() string {
	return strings.Join(dimTechListColumns, ", ")
}
