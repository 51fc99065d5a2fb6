package main

// Sample is one piece of clinician feedback sent to the coder.
type Sample struct {
	Name string
	Text string
	// Expect lists codes a reasonable answer should mention.
	Expect []string
}

// Samples are de-identified clinical notes at increasing lengths, used for
// latency measurement.
var Samples = []Sample{
	{
		Name:   "tiny",
		Text:   "Patient has asthma, well controlled on inhaler.",
		Expect: []string{"J45"},
	},
	{
		Name:   "short",
		Text:   "58 y/o male with type 2 diabetes presenting with burning pain and numbness in both feet, consistent with peripheral neuropathy. A1c 8.4.",
		Expect: []string{"E11.4"},
	},
	{
		Name: "medium",
		Text: `Follow-up visit. 71 y/o female with long-standing hypertension and stage 3 chronic kidney disease, eGFR 42.
Reports increasing shortness of breath on exertion and bilateral ankle swelling over the past two weeks.
Echo last month showed reduced ejection fraction (35%). Currently on lisinopril and furosemide.
Plan: uptitrate diuretic, add beta blocker, repeat BMP in one week.`,
		Expect: []string{"I13", "N18.3", "I50"},
	},
	{
		Name: "long",
		Text: `ED note. 45 y/o male brought in after a fall from a ladder at work, approx 2 m. Landed on outstretched right hand.
Deformity and swelling of the right wrist, X-ray confirms displaced distal radius fracture, closed.
Also a 3 cm laceration on the left forearm, cleaned and sutured.
History of major depressive disorder, single episode, in partial remission on sertraline.
Smoker, 20 pack-years, counseled on cessation.
No head strike, no LOC, neuro exam intact.
Ortho consulted for closed reduction; splinted and discharged with follow-up in 5 days.`,
		Expect: []string{"S52.5", "S51.8", "F32.4", "F17.2", "W11"},
	},
}

// QualitySamples are short, deliberately tricky notes for eyeballing the
// generated HTML (-quality mode).
var QualitySamples = []Sample{
	{
		Name:   "negation",
		Text:   "Chest pain, myocardial infarction ruled out by serial troponins. Likely musculoskeletal.",
		Expect: []string{"R07"},
	},
	{
		Name:   "abbreviations",
		Text:   "Hx of COPD w/ acute exacerbation, on 2L NC, sats 91%.",
		Expect: []string{"J44.1"},
	},
	{
		Name:   "combination",
		Text:   "Type 1 diabetic with proliferative retinopathy, right eye, with macular edema.",
		Expect: []string{"E10.35"},
	},
	{
		Name:   "history-only",
		Text:   "Personal history of colon cancer, s/p resection 2019, no evidence of recurrence on surveillance colonoscopy.",
		Expect: []string{"Z85.038"},
	},
	{
		Name:   "non-clinical",
		Text:   "The waiting room was too cold and the parking machine did not accept cards.",
		Expect: nil,
	},
}
