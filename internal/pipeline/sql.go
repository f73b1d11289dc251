// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package pipeline

import "github.com/tomtom215/taxiflow/internal/materialize"

// Table schemas and selects. Selects are templates rendered per partition;
// see materialize.TemplateData.

var tripsColumns = []materialize.Column{
	{Name: "vendor_id", Type: "INTEGER"},
	{Name: "pickup_zone_id", Type: "INTEGER"},
	{Name: "dropoff_zone_id", Type: "INTEGER"},
	{Name: "rate_code_id", Type: "DOUBLE"},
	{Name: "payment_type", Type: "BIGINT"},
	{Name: "dropoff_datetime", Type: "TIMESTAMP"},
	{Name: "pickup_datetime", Type: "TIMESTAMP"},
	{Name: "trip_distance", Type: "DOUBLE"},
	{Name: "passenger_count", Type: "DOUBLE"},
	{Name: "total_amount", Type: "DOUBLE"},
}

const tripsSelect = `
SELECT
    VendorID AS vendor_id,
    PULocationID AS pickup_zone_id,
    DOLocationID AS dropoff_zone_id,
    RatecodeID AS rate_code_id,
    payment_type AS payment_type,
    tpep_dropoff_datetime AS dropoff_datetime,
    tpep_pickup_datetime AS pickup_datetime,
    trip_distance AS trip_distance,
    passenger_count AS passenger_count,
    total_amount AS total_amount
FROM read_parquet('{{.Params.raw_dir}}/taxi_trips_{{.Key}}.parquet')`

var zonesColumns = []materialize.Column{
	{Name: "zone_id", Type: "INTEGER"},
	{Name: "zone", Type: "VARCHAR"},
	{Name: "borough", Type: "VARCHAR"},
	{Name: "geometry", Type: "VARCHAR"},
}

const zonesSelect = `
SELECT
    LocationID AS zone_id,
    zone AS zone,
    borough AS borough,
    the_geom AS geometry
FROM read_csv('{{.Params.zones_file}}', header = true, auto_detect = true)`

var tripsByWeekColumns = []materialize.Column{
	{Name: "period", Type: "DATE"},
	{Name: "num_trips", Type: "BIGINT"},
	{Name: "passenger_count", Type: "DOUBLE"},
	{Name: "total_amount", Type: "DOUBLE"},
	{Name: "trip_distance", Type: "DOUBLE"},
}

const tripsByWeekSelect = `
SELECT
    CAST(date_trunc('week', pickup_datetime) AS DATE) AS period,
    count(vendor_id) AS num_trips,
    sum(passenger_count) AS passenger_count,
    sum(total_amount) AS total_amount,
    sum(trip_distance) AS trip_distance
FROM trips
GROUP BY period`

const tripsByWeekExport = `
SELECT period, num_trips, passenger_count, total_amount, trip_distance
FROM trips_by_week
ORDER BY period`

// Pickups per zone of one borough, with the zone boundary as WKT.
const boroughStatsQuery = `
SELECT
    zones.zone,
    zones.borough,
    zones.geometry,
    count(1) AS num_trips
FROM trips
LEFT JOIN zones ON trips.pickup_zone_id = zones.zone_id
WHERE zones.borough = ? AND zones.geometry IS NOT NULL
GROUP BY zones.zone, zones.borough, zones.geometry
ORDER BY zones.zone`

// Pickups in a borough and date range by hour of day and day of week
// (0 = Sunday).
const requestQuery = `
SELECT
    CAST(date_part('hour', pickup_datetime) AS INTEGER) AS hour_of_day,
    CAST(date_part('dayofweek', pickup_datetime) AS INTEGER) AS day_of_week_num,
    count(*) AS num_trips
FROM trips
WHERE pickup_datetime >= CAST(? AS TIMESTAMP)
  AND pickup_datetime < CAST(? AS TIMESTAMP)
  AND pickup_zone_id IN (SELECT zone_id FROM zones WHERE borough = ?)
GROUP BY 1, 2
ORDER BY 1, 2`
