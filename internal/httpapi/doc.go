// Package httpapi serves the deep-link API: a quiz opened from a reminder
// link is fetched and answered with the token embedded in that link.
//
//	GET  /healthz
//	GET  /quizzes/{quizID}?token=...
//	POST /quizzes/{quizID}/attempts                        {"answer": "..."}
//	POST /quizzes/{quizID}/attempts/{attemptID}/complete
//
// POST routes take the token as "Authorization: Bearer <token>".
package httpapi
