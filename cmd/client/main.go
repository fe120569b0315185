package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"offsetlog/internal/client"
)

func main() {
	brokerAddr := flag.String("broker", "localhost:9092", "broker address to dial")
	totalRecords := flag.Int("records", 1000, "number of records to produce before fetching them back")
	fetchMaxBytes := flag.Int("fetch-max-bytes", 1024*1024, "max_bytes to request per Fetch call")
	flag.Parse()

	fmt.Println("connecting to broker...")
	c, err := client.Dial(client.Config{BrokerAddr: *brokerAddr})
	if err != nil {
		log.Fatalf("connection failed: %v", err)
	}
	defer c.Close()

	fmt.Printf("\nproducing %d records\n", *totalRecords)
	offsets := make([]uint64, 0, *totalRecords)

	start := time.Now()
	for i := 0; i < *totalRecords; i++ {
		payload := []byte(fmt.Sprintf("record #%d", i))
		offset, err := c.Produce(payload)
		if err != nil {
			log.Fatalf("produce failed at record #%d: %v", i, err)
		}
		offsets = append(offsets, offset)
	}
	fmt.Printf("produced %d records in %v\n", *totalRecords, time.Since(start))

	fmt.Println("\nfetching every record back by offset")
	success := 0
	for i, offset := range offsets {
		data, err := c.Fetch(offset, int32(*fetchMaxBytes))
		if err != nil {
			log.Printf("fetch failed for offset %d: %v", offset, err)
			continue
		}
		if len(data) == 0 {
			log.Printf("empty response for offset %d", offset)
			continue
		}
		success++
		if i == 0 || i == len(offsets)-1 {
			fmt.Printf("offset %d -> %d bytes\n", offset, len(data))
		}
	}

	fmt.Printf("\nfetched %d/%d records back successfully\n", success, len(offsets))
	if success != len(offsets) {
		log.Fatalf("%d records could not be read back", len(offsets)-success)
	}
}
