package model

import "time"

// Show is a scheduled screening whose seats are sold through the saga.
// Its start time partitions confirmation numbers and bounds admission
// slot lifetimes.
//
// Fields:
//  ID       – primary key identifier.
//  SellerID – seller (cinema operator) offering the show.
//  Title    – movie title or an external reference.
//  StartsAt – when the show begins.
//  EndsAt   – when the show ends.
//  Status   – SCHEDULED, CANCELLED or FINISHED; only SCHEDULED sells.
type Show struct {
    ID        uint64    // shows.id
    SellerID  string    // shows.seller_id
    Title     string    // shows.title
    StartsAt  time.Time // shows.starts_at
    EndsAt    time.Time // shows.ends_at
    Status    string    // shows.status
    CreatedAt time.Time // shows.created_at
    UpdatedAt time.Time // shows.updated_at
}

const ShowScheduled = "SCHEDULED"
