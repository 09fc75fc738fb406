// Package postgres implements the store interfaces on PostgreSQL through the
// pgx database/sql driver. Schema migrations are embedded and applied with
// goose; see Migrations.
package postgres
