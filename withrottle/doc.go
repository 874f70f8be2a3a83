// Package withrottle is a client for the WiThrottle text protocol spoken by
// model railroad command stations (JMRI and compatible servers).
//
// Every message is a single ASCII line terminated by '\n':
//
//	NKorg0                 set the throttle name
//	MT+L3<;>L3             acquire loco L3
//	MTAL3<;>V64            set its speed (0-126)
//	MTAL3<;>F05            function 5 pressed (F0) / released (F1)
//	PPA1                   track power on
//	*                      heartbeat
//
// Commands are fire-and-forget: the server reports state changes as
// asynchronous lines which PollEvents decodes into Events.
//
//	client, err := withrottle.Dial(ctx, "localhost", 12090, withrottle.Options{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetThrottleName("Korg")
//	client.AddLoco("L3")
//	events, err := client.PollEvents()
package withrottle
