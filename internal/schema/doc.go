// Package schema defines the row types of the replicated market database.
//
// The replica mirrors four tables from the remote market database:
//
//   - marketorders: live buy/sell orders for the home market hub
//   - marketstats: per-type rollups (price, stock, daily volume) with the
//     last ESI update timestamp
//   - market_history: daily average price and volume per type
//   - doctrines: fitted-ship requirements joined against market stock
//
// The table contents are produced remotely; this package only carries the
// shapes and the validation applied when rows cross the replica boundary.
package schema
