// Package gem is a client for the Gemini generative-language REST API.
//
// A Session is assembled once with a Builder and then shared:
//
//	sess, err := gem.NewBuilder().
//		APIKey(os.Getenv("GEMINI_API_KEY")).
//		ConnectTimeout(30 * time.Second).
//		ReadTimeout(30 * time.Second).
//		Model(gem.Gemini25Flash).
//		Context(gem.NewContext()).
//		Build()
//
// Send waits for the whole answer. SendStream returns a Stream that decodes
// response fragments as the bytes arrive:
//
//	stream, err := sess.SendStream(ctx, "tell me a long story", gem.RoleUser, settings)
//	if err != nil {
//		return err
//	}
//	for resp, err := range stream.All() {
//		if err != nil {
//			log.Println(err)
//			continue
//		}
//		fmt.Print(resp.Text())
//	}
//
// Timeouts: ConnectTimeout bounds dialing and the TLS handshake. ReadTimeout
// bounds how long a read of the response waits for the server; time the
// caller spends between Recv calls is not counted. Timeout bounds the whole
// request, body included, and when it is set ReadTimeout is ignored. On a
// stream Timeout cuts the answer off even while the server is still writing,
// so SendTimeout is the way to bound Send and file calls only.
//
// Nothing is retried.
package gem
