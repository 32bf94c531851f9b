// Package influxdb records filter lifecycle history in InfluxDB v2.
//
// Client wraps the official influxdb-client-go non-blocking write API;
// points are batched per batch_size and flush_interval from config.yaml and
// write failures arrive on the SetOnError callback. LifecycleWriter is the
// filter.Observer that turns events into points:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	registry.AddObserver(influxdb.NewLifecycleWriter(client, cfg.Service.ID))
package influxdb
