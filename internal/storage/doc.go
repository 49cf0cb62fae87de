package storage

// Package storage provides the sqlite persistence layer for crewcall.
//
// It holds the read model the dispatch engine works from (projects, rosters,
// orders, preferences), the append-only reminder log and schedule-change
// history, and the transactional schedule/sub-window writes used by delay
// propagation.
