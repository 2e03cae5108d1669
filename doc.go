// Package lexshard provides an embedded Go client for the lexshard
// semantically-sharded statutory retrieval engine, backed by Redis 8+
// with search modules.
//
// The client wires the full engine in-process: corpus ingestion with
// four-space embedding, the self-organizing domain registry, and the
// scatter/gather query router.
//
//	client, _ := lexshard.New(
//	    lexshard.WithRedis([]string{"localhost:6379"}, "", "", 0),
//	    lexshard.WithEmbedders(embedders, lexshard.Dimensions{
//	        Structural: 384, Primary: 1024, Relationship: 1024, Routing: 512,
//	    }),
//	)
//	defer client.Close()
//
//	client.Ingest(ctx, lexshard.IngestRequest{
//	    SourceName: "Merchant Shipping Code",
//	    SourceType: "code",
//	    Units:      units,
//	})
//	outcome, _ := client.Search(ctx, "liens on cargo for unpaid freight", nil)
package lexshard
