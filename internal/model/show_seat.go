package model

import "github.com/shopspring/decimal"

// Seat statuses of a show_seats row.
const (
    SeatFree     = "FREE"
    SeatHeld     = "HELD"
    SeatReserved = "RESERVED"
)

// ShowSeat is a seat offered for one show with its price and the
// admission category it belongs to.  Limited categories (wheelchair
// spaces, for example) are guarded by admission slots.
type ShowSeat struct {
    ID         uint64          // show_seats.id
    ShowID     uint64          // show_seats.show_id
    SeatID     uint64          // show_seats.seat_id
    SeatLabel  string          // show_seats.seat_label, e.g. "C7"
    Section    string          // show_seats.section
    Category   string          // show_seats.category
    TicketType string          // show_seats.ticket_type
    Status     string          // show_seats.status
    Price      decimal.Decimal // show_seats.price
}
