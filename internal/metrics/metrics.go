package metrics

import "expvar"

var (
	OpportunitiesSeen  = expvar.NewInt("opportunities_seen")
	OpportunitiesDedup = expvar.NewInt("opportunities_dedup")
	GateDenials        = expvar.NewInt("gate_denials")
	BuysExecuted       = expvar.NewInt("buys_executed")
	BuyFailures        = expvar.NewInt("buy_failures")
	SellsExecuted      = expvar.NewInt("sells_executed")
	SellFailures       = expvar.NewInt("sell_failures")
	StopLossCloses     = expvar.NewInt("stop_loss_closes")
	TrailingCloses     = expvar.NewInt("trailing_closes")
	LadderFills        = expvar.NewInt("ladder_fills")
	DeadDataCloses     = expvar.NewInt("dead_data_closes")
	TimeoutCloses      = expvar.NewInt("timeout_closes")
	RunnerPromotions   = expvar.NewInt("runner_promotions")
	WatchlistBuys      = expvar.NewInt("watchlist_buys")
	WatchlistExpired   = expvar.NewInt("watchlist_expired")
	WatchlistAbandoned = expvar.NewInt("watchlist_abandoned")
	PriceFetchErrors   = expvar.NewInt("price_fetch_errors")
)
