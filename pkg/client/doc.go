/*
Package client provides a Go client library for the scheduler's gRPC API.

It wraps pkg/rpc.SchedulerClient with a convenient, idiomatic interface for
CLI tools and test harnesses: one dial, then plain Go methods in place of
raw request/response structs.

# Usage

	c, err := client.NewClient("scheduler:50051")
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	resp, err := c.ExecuteQuery(query, nil, "", 1)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("job:", resp.JobID)

	status, err := c.GetJobStatus(resp.JobID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("status:", status.Status)

# Thread Safety

The client is safe for concurrent use: gRPC connections are thread-safe by
design and the wrapper keeps no mutable state of its own.
*/
package client
